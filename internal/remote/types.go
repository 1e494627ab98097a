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

// Package remote runs an identical instance of this service on a
// remote host over SSH and exposes it locally through a verified
// tunnel: connect, discover compatible Python environments, launch a
// peer, forward its port, and poll its health — all gated on strict
// host-key verification against a dedicated known-hosts store.
package remote

import (
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// State is a connection's position in the per-connection state machine
// described for the remote-viewer controller.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StatePeerStarting    State = "peer_starting"
	StatePeerRunning    State = "peer_running"
	StateDegraded       State = "degraded"
	StateFailed         State = "failed"
	StateClosing        State = "closing"
	StateClosed         State = "closed"
)

// Config configures the controller: port range for local tunnel
// endpoints, the known-hosts store location, and the native ssh binary
// to prefer for the subprocess tunnel backend.
type Config struct {
	DataRoot       string
	PortRangeStart int
	PortRangeEnd   int
	KnownHostsPath string
	SSHPath        string

	// LocalVersion is compared against a discovered environment's
	// installed package version under an identical-major.minor policy.
	LocalVersion string

	Logger interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
}

// AuthRequest is the connect payload's auth block: exactly one of
// Password or PrivateKeyPath/Passphrase is expected to resolve to a
// usable ssh.AuthMethod.
type AuthRequest struct {
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
}

// ConnectRequest is POST /api/remote/connect's decoded body.
type ConnectRequest struct {
	Host     string      `json:"host"`
	Port     int         `json:"port"`
	Username string      `json:"username"`
	Auth     AuthRequest `json:"auth"`
}

// Environment is one candidate discovered by list_environments: an
// interpreter whose import of this package succeeded and whose
// version is compatible with the local build.
type Environment struct {
	Name           string `json:"name"`
	PythonPath     string `json:"python_path"`
	PackageVersion string `json:"package_version"`
	DataRoot       string `json:"data_root"`
	Compatible     bool   `json:"compatible"`
}

// ViewerStartRequest is POST /api/remote/viewer/start's decoded body.
type ViewerStartRequest struct {
	ConnectionID string `json:"connection_id"`
	EnvName      string `json:"env_name"`
}

// ViewerStatus reports a running (or absent) peer's state and forwarded URL.
type ViewerStatus struct {
	Status    string `json:"status"`
	ViewerURL string `json:"viewer_url,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// HealthReport is the layered health check result for one connection.
type HealthReport struct {
	SSHAlive     bool   `json:"ssh_alive"`
	PeerHealthy  bool   `json:"peer_healthy"`
	TunnelAlive  bool   `json:"tunnel_alive"`
	State        State  `json:"state"`
	LastCheckedAt string `json:"last_checked_at"`
}

// connection is one controller-managed remote session: the SSH client,
// an optional peer process and tunnel, and the state machine's current
// state. All mutation goes through the controller's methods, which
// hold mu for the duration of any state transition.
type connection struct {
	mu sync.Mutex

	id       string
	host     string
	port     int
	username string

	client *ssh.Client
	state  State

	peerPID       int
	peerPort      int
	localPort     int
	viewerURL     string
	tunnel        *tunnel
	lastHealth    HealthReport
	reconnects    int
	createdAt     time.Time

	tokenSecret []byte
	peerToken   string
	envName     string
	stopHealth  func()
}

func (c *connection) snapshotLocked() map[string]any {
	return map[string]any{
		"connection_id": c.id,
		"host":          c.host,
		"port":          c.port,
		"username":      c.username,
		"state":         c.state,
		"viewer_url":    c.viewerURL,
		"created_at":    c.createdAt.Format(time.RFC3339),
	}
}
