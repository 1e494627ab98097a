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
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
	"github.com/Skydoge-zjm/runicorn/internal/secrets"
)

// credentialStore resolves SSH secrets (passwords, key passphrases) by
// a key derived from host and username, never placing them in the
// config file or an environment variable visible to the launched
// peer. In production this is secrets.Resolver; tests substitute a map.
type credentialStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// Controller implements server.RemoteController: it owns every
// connection's state machine, tunnel, and peer process.
type Controller struct {
	cfg    Config
	creds  credentialStore
	hosts  *knownHostsStore

	mu    sync.Mutex
	conns map[string]*connection
}

// New builds a Controller. creds is typically a *secrets.Resolver; nil
// falls back to requiring Password/PrivateKeyPath in every connect
// request (no secret-store lookup).
func New(cfg Config, creds *secrets.Resolver) *Controller {
	if cfg.PortRangeStart == 0 {
		cfg.PortRangeStart, cfg.PortRangeEnd = 8081, 8099
	}
	var cs credentialStore
	if creds != nil {
		cs = creds
	}
	return &Controller{
		cfg:   cfg,
		creds: cs,
		hosts: newKnownHostsStore(cfg.KnownHostsPath),
		conns: make(map[string]*connection),
	}
}

// Connect implements server.RemoteController. A 409 carrying a
// HostKeyProblem is returned verbatim from the dial's host-key
// callback; the caller must confirm via AddKnownHost before retrying.
func (c *Controller) Connect(r *http.Request) (string, error) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", apierr.NewValidationError("body", "must be valid JSON")
	}
	if req.Host == "" || req.Username == "" {
		return "", apierr.NewValidationError("host", "host and username are required")
	}
	if req.Port == 0 {
		req.Port = 22
	}

	conn := &connection{
		id:        uuid.NewString(),
		host:      req.Host,
		port:      req.Port,
		username:  req.Username,
		state:     StateAuthenticating,
		createdAt: time.Now().UTC(),
	}

	client, err := c.dial(req.Host, req.Port, req.Username, &req.Auth)
	if err != nil {
		return "", err
	}

	secret := make([]byte, 32)
	rand.Read(secret)

	conn.client = client
	conn.state = StateConnected
	conn.tokenSecret = secret

	c.mu.Lock()
	c.conns[conn.id] = conn
	c.mu.Unlock()

	healthCtx, healthCancel := context.WithCancel(context.Background())
	conn.stopHealth = healthCancel
	go c.runHealthLoop(healthCtx, conn)

	return conn.id, nil
}

// dial authenticates to host:port as username and validates the
// presented host key against the dedicated known-hosts store.
// Execution, SFTP, and (per the fallback chain's final link) port
// forwarding all run over this one client.
func (c *Controller) dial(host string, port int, username string, auth *AuthRequest) (*ssh.Client, error) {
	methods, err := c.authMethods(host, username, auth)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            methods,
		HostKeyCallback: c.hosts.hostKeyCallback(host, port),
		Timeout:         remoteCallTimeout,
	}
	return ssh.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)), cfg)
}

func (c *Controller) authMethods(host, username string, auth *AuthRequest) ([]ssh.AuthMethod, error) {
	if auth != nil && auth.Password != "" {
		return []ssh.AuthMethod{ssh.Password(auth.Password)}, nil
	}
	if auth != nil && auth.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(auth.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer ssh.Signer
		if auth.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(auth.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	if c.creds != nil {
		if pw, err := c.creds.Get(context.Background(), credentialKey(host, username, "password")); err == nil {
			return []ssh.AuthMethod{ssh.Password(pw)}, nil
		}
	}
	return nil, apierr.NewValidationError("auth", "no usable credential: provide a password or private_key_path")
}

func credentialKey(host, username, kind string) string {
	return fmt.Sprintf("ssh/%s/%s/%s", host, username, kind)
}

// ListConnections implements server.RemoteController.
func (c *Controller) ListConnections() any {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]map[string]any, 0, len(c.conns))
	for _, conn := range c.conns {
		conn.mu.Lock()
		items = append(items, conn.snapshotLocked())
		conn.mu.Unlock()
	}
	return map[string]any{"items": items}
}

// Disconnect implements server.RemoteController: tears down the tunnel,
// optionally kills the remote peer, and closes the SSH connection.
func (c *Controller) Disconnect(connectionID string, cleanupPeer bool) error {
	conn, err := c.get(connectionID)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	conn.state = StateClosing
	if conn.stopHealth != nil {
		conn.stopHealth()
	}
	if conn.tunnel != nil {
		conn.tunnel.close()
	}
	client := conn.client
	peerPID := conn.peerPID
	conn.mu.Unlock()

	if cleanupPeer && peerPID != 0 && client != nil {
		killRemoteProcess(client, peerPID)
	}
	if client != nil {
		client.Close()
	}

	conn.mu.Lock()
	conn.state = StateClosed
	conn.mu.Unlock()

	c.mu.Lock()
	delete(c.conns, connectionID)
	c.mu.Unlock()
	return nil
}

func killRemoteProcess(client *ssh.Client, pid int) {
	runRemote(client, fmt.Sprintf("kill -TERM %d", pid))
	time.Sleep(2 * time.Second)
	runRemote(client, fmt.Sprintf("kill -KILL %d 2>/dev/null || true", pid))
}

// ListEnvironments implements server.RemoteController.
func (c *Controller) ListEnvironments(connectionID string) (any, error) {
	conn, err := c.get(connectionID)
	if err != nil {
		return nil, err
	}
	conn.mu.Lock()
	client := conn.client
	conn.mu.Unlock()

	envs, err := discoverEnvironments(client, c.cfg.LocalVersion)
	if err != nil {
		return nil, fmt.Errorf("discover environments: %w", err)
	}
	return map[string]any{"items": envs}, nil
}

func (c *Controller) get(connectionID string) (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[connectionID]
	if !ok {
		return nil, apierr.NewNotFoundError("connection", connectionID)
	}
	return conn, nil
}

// AddKnownHost implements server.RemoteController: the explicit
// accept step after a client has surfaced a HostKeyProblem to a human.
func (c *Controller) AddKnownHost(r *http.Request) error {
	var req struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		KeyType   string `json:"key_type"`
		PublicKey []byte `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.NewValidationError("body", "must be valid JSON")
	}
	if req.Host == "" || req.KeyType == "" || len(req.PublicKey) == 0 {
		return apierr.NewValidationError("host", "host, key_type, and public_key are required")
	}
	if req.Port == 0 {
		req.Port = 22
	}
	return c.hosts.upsert(req.Host, req.Port, req.KeyType, req.PublicKey)
}

// allocateLocalPort finds a free port in the configured range.
func (c *Controller) allocateLocalPort() (int, error) {
	for p := c.cfg.PortRangeStart; p <= c.cfg.PortRangeEnd; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			continue
		}
		ln.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free local port in range %d-%d", c.cfg.PortRangeStart, c.cfg.PortRangeEnd)
}
