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
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
)

// StartViewer implements server.RemoteController: composes a remote
// launch command for the chosen environment, waits for its port to
// bind, allocates a local port, and establishes the tunnel.
func (c *Controller) StartViewer(r *http.Request) (any, error) {
	var req ViewerStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apierr.NewValidationError("body", "must be valid JSON")
	}
	conn, err := c.get(req.ConnectionID)
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	client := conn.client
	host, port := conn.host, conn.port
	tokenSecret := conn.tokenSecret
	conn.mu.Unlock()
	if client == nil {
		return nil, apierr.NewValidationError("connection_id", "connection is not established")
	}

	token, err := issuePeerToken(tokenSecret, req.ConnectionID, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("issue peer token: %w", err)
	}

	remotePort, pid, err := launchPeer(client, req.EnvName, req.ConnectionID, token)
	if err != nil {
		return nil, &apierr.RemoteFailureError{Code: apierr.CodeViewerStartFailed, Message: "launch remote peer", Cause: err}
	}

	localPort, err := c.allocateLocalPort()
	if err != nil {
		return nil, &apierr.RemoteFailureError{Code: apierr.CodeTunnelFailed, Message: "allocate local port", Cause: err}
	}

	ctx, cancel := context.WithTimeout(r.Context(), remoteCallTimeout)
	defer cancel()
	t, err := establishTunnel(ctx, client, c.cfg.SSHPath, host, port, localPort, remotePort)
	if err != nil {
		return nil, &apierr.RemoteFailureError{Code: apierr.CodeTunnelFailed, Message: "establish tunnel", Cause: err}
	}

	viewerURL := fmt.Sprintf("http://127.0.0.1:%d", localPort)

	conn.mu.Lock()
	conn.peerPID = pid
	conn.peerPort = remotePort
	conn.localPort = localPort
	conn.viewerURL = viewerURL
	conn.tunnel = t
	conn.peerToken = token
	conn.envName = req.EnvName
	conn.state = StatePeerRunning
	conn.mu.Unlock()

	return ViewerStatus{Status: string(StatePeerRunning), ViewerURL: viewerURL, TaskID: req.ConnectionID}, nil
}

// launchPeer composes a nohup'd remote command that activates envName
// (a python path discovered by ListEnvironments) and starts this same
// service bound to 127.0.0.1 on a free remote port, detached with its
// log identified by connectionID, then polls for up to ~3s for that
// port to bind.
func launchPeer(client *ssh.Client, envName, connectionID, peerToken string) (remotePort int, pid int, err error) {
	remotePort, err = remoteFreePort(client)
	if err != nil {
		return 0, 0, fmt.Errorf("allocate remote port: %w", err)
	}

	logFile := fmt.Sprintf("/tmp/runicorn-peer-%s.log", connectionID)
	launchCmd := fmt.Sprintf(
		`RUNICORN_PEER_TOKEN=%s nohup %s --listen 127.0.0.1:%d > %s 2>&1 & echo $!`,
		shellQuote(peerToken), shellQuote(envName), remotePort, shellQuote(logFile),
	)

	out, err := runRemote(client, launchCmd)
	if err != nil {
		return 0, 0, fmt.Errorf("start peer: %w: %s", err, out)
	}
	pid, err = strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, 0, fmt.Errorf("parse peer pid from %q: %w", out, err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if out, err := runRemote(client, fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' http://127.0.0.1:%d/api/health", remotePort)); err == nil && strings.TrimSpace(out) == "200" {
			return remotePort, pid, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return remotePort, pid, fmt.Errorf("peer did not become healthy within 3s")
}

func remoteFreePort(client *ssh.Client) (int, error) {
	out, err := runRemote(client, `python3 -c "import socket; s=socket.socket(); s.bind(('127.0.0.1',0)); print(s.getsockname()[1])"`)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(out))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// StopViewer implements server.RemoteController.
func (c *Controller) StopViewer(connectionID string) error {
	conn, err := c.get(connectionID)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	client := conn.client
	pid := conn.peerPID
	if conn.tunnel != nil {
		conn.tunnel.close()
		conn.tunnel = nil
	}
	conn.viewerURL = ""
	conn.localPort = 0
	conn.state = StateConnected
	conn.mu.Unlock()

	if client != nil && pid != 0 {
		killRemoteProcess(client, pid)
	}
	return nil
}

// ViewerStatus implements server.RemoteController.
func (c *Controller) ViewerStatus(connectionID string) (any, error) {
	conn, err := c.get(connectionID)
	if err != nil {
		return nil, err
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return ViewerStatus{Status: string(conn.state), ViewerURL: conn.viewerURL, TaskID: connectionID}, nil
}

// Health implements server.RemoteController, returning the most recent
// layered health report (updated every 30s by runHealthLoop) rather
// than forcing a synchronous probe on every poll.
func (c *Controller) Health(connectionID string) (any, error) {
	conn, err := c.get(connectionID)
	if err != nil {
		return nil, err
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	report := conn.lastHealth
	report.State = conn.state
	return report, nil
}
