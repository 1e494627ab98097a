// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Skydoge-zjm/runicorn/pkg/httpclient"
)

const (
	healthCheckInterval  = 30 * time.Second
	remoteCallTimeout    = 30 * time.Second
	maxReconnectAttempts = 3
)

// peerHTTPClient probes the tunneled peer's /api/health. Retries are
// left to the health loop's own 30s cadence, so this client makes a
// single attempt per call.
var peerHTTPClient = func() *http.Client {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.RetryAttempts = 0
	cfg.UserAgent = "runicorn-remote/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return http.DefaultClient
	}
	return client
}()

// runHealthLoop polls one connection's three health layers every
// healthCheckInterval until ctx is canceled: SSH aliveness, peer HTTP
// health through the tunnel, and local port connectivity. It applies
// the spec's recovery policy directly — transient SSH failure retries
// with exponential backoff, a peer crash surfaces as degraded without
// auto-restart, and a lost tunnel over a live SSH connection is
// rebuilt.
func (c *Controller) runHealthLoop(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkOnce(ctx, conn)
		}
	}
}

func (c *Controller) checkOnce(ctx context.Context, conn *connection) {
	conn.mu.Lock()
	client := conn.client
	localPort := conn.localPort
	peerToken := conn.peerToken
	state := conn.state
	conn.mu.Unlock()

	if state == StateClosed || state == StateClosing {
		return
	}

	report := HealthReport{State: state, LastCheckedAt: time.Now().UTC().Format(time.RFC3339)}

	report.SSHAlive = sshAlive(client)
	report.TunnelAlive = localPort != 0 && portOpen(localPort)
	if report.TunnelAlive {
		report.PeerHealthy = peerHealthy(ctx, localPort, peerToken)
	}

	conn.mu.Lock()
	conn.lastHealth = report
	switch {
	case !report.SSHAlive:
		conn.reconnects++
		if conn.reconnects > maxReconnectAttempts {
			conn.state = StateFailed
		} else {
			conn.state = StateDegraded
			go c.reconnectWithBackoff(conn)
		}
	case !report.TunnelAlive && report.SSHAlive:
		go c.rebuildTunnel(conn)
	case !report.PeerHealthy:
		conn.state = StateDegraded
	default:
		if conn.state == StateDegraded {
			conn.state = StatePeerRunning
		}
		conn.reconnects = 0
	}
	conn.mu.Unlock()
}

// sshAlive sends a cheap keepalive request over the connection; any
// response (even "request type unknown") proves the transport is up,
// while a send error means the connection has dropped.
func sshAlive(client *ssh.Client) bool {
	if client == nil {
		return false
	}
	_, _, err := client.SendRequest("keepalive@runicorn", true, nil)
	return err == nil
}

func portOpen(port int) bool {
	c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	if err != nil {
		return false
	}
	c.Close()
	return true
}

func peerHealthy(ctx context.Context, localPort int, token string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://127.0.0.1:%d/api/health", localPort), nil)
	if err != nil {
		return false
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := peerHTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// reconnectWithBackoff retries the SSH dial up to maxReconnectAttempts
// times with 1s/2s/4s backoff, per the spec's transient-failure policy.
func (c *Controller) reconnectWithBackoff(conn *connection) {
	backoff := time.Second
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		time.Sleep(backoff)
		backoff *= 2

		conn.mu.Lock()
		host, port, username := conn.host, conn.port, conn.username
		conn.mu.Unlock()

		client, err := c.dial(host, port, username, nil)
		if err != nil {
			continue
		}
		conn.mu.Lock()
		conn.client = client
		conn.state = StatePeerRunning
		conn.reconnects = 0
		conn.mu.Unlock()
		return
	}
}

// rebuildTunnel re-establishes a local port forward over a still-live
// SSH connection after the tunnel itself (not the SSH session) drops.
func (c *Controller) rebuildTunnel(conn *connection) {
	conn.mu.Lock()
	client := conn.client
	host, port := conn.host, conn.port
	localPort, peerPort := conn.localPort, conn.peerPort
	conn.mu.Unlock()

	if client == nil || localPort == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
	defer cancel()

	t, err := establishTunnel(ctx, client, c.cfg.SSHPath, host, port, localPort, peerPort)
	if err != nil {
		return
	}
	conn.mu.Lock()
	if conn.tunnel != nil {
		conn.tunnel.close()
	}
	conn.tunnel = t
	conn.mu.Unlock()
}
