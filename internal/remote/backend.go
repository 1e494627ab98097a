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
	"io"
	"net"
	"os/exec"
	"sync"

	"golang.org/x/crypto/ssh"
)

// tunnel represents one established local-to-remote port forward,
// regardless of which backend built it.
type tunnel struct {
	localPort int
	stop      func()
	done      chan struct{}
}

func (t *tunnel) close() {
	if t.stop != nil {
		t.stop()
	}
}

// tunnelBackend forwards 127.0.0.1:localPort to 127.0.0.1:remotePort
// on the other end of an already-authenticated SSH connection.
type tunnelBackend interface {
	name() string
	forward(ctx context.Context, client *ssh.Client, sshPath string, host string, port int, localPort, remotePort int) (*tunnel, error)
}

// nativeSSHBackend shells out to the system ssh client with -L, the
// first-choice backend: it inherits the user's own OpenSSH
// configuration (ControlMaster, proxy jumps, agent forwarding) for
// free. It passes no host-key or auth options, so the subprocess
// checks the host key and authenticates under the user's own OpenSSH
// settings; it only runs after the library dial has validated the host
// key against the dedicated store.
type nativeSSHBackend struct{}

func (nativeSSHBackend) name() string { return "native_ssh" }

func (nativeSSHBackend) forward(ctx context.Context, client *ssh.Client, sshPath string, host string, port int, localPort, remotePort int) (*tunnel, error) {
	if sshPath == "" {
		sshPath = "ssh"
	}
	if _, err := exec.LookPath(sshPath); err != nil {
		return nil, fmt.Errorf("native ssh binary unavailable: %w", err)
	}

	// The subprocess rides an already-open control connection via
	// ControlPath/ControlMaster when the user's ssh config enables it;
	// without a control socket it opens and authenticates its own
	// direct connection.
	args := []string{
		"-N", "-L", fmt.Sprintf("127.0.0.1:%d:127.0.0.1:%d", localPort, remotePort),
		"-p", fmt.Sprintf("%d", port), fmt.Sprintf("%s@%s", client.User(), host),
	}
	cmd := exec.CommandContext(ctx, sshPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start native ssh forward: %w", err)
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	return &tunnel{
		localPort: localPort,
		done:      done,
		stop:      func() { cmd.Process.Kill() },
	}, nil
}

// libsshBackend forwards using golang.org/x/crypto/ssh directly: a
// local net.Listener accepts connections and pipes each to a
// "direct-tcpip" channel opened over client. Used when the native
// binary is unavailable or its launch failed for a reason other than
// a host-key mismatch (a mismatch must surface, not silently fall
// through to a different backend).
type libsshBackend struct{}

func (libsshBackend) name() string { return "libssh_async" }

func (libsshBackend) forward(ctx context.Context, client *ssh.Client, sshPath string, host string, port int, localPort, remotePort int) (*tunnel, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		return nil, fmt.Errorf("listen on local port %d: %w", localPort, err)
	}

	remoteAddr := fmt.Sprintf("127.0.0.1:%d", remotePort)
	done := make(chan struct{})
	var wg sync.WaitGroup

	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				proxyConn(client, conn, remoteAddr)
			}()
		}
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	return &tunnel{
		localPort: localPort,
		done:      done,
		stop: func() {
			ln.Close()
			wg.Wait()
		},
	}, nil
}

func proxyConn(client *ssh.Client, local net.Conn, remoteAddr string) {
	defer local.Close()
	remote, err := client.Dial("tcp", remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(remote, local) }()
	go func() { defer wg.Done(); io.Copy(local, remote) }()
	wg.Wait()
}

// transportForwardBackend is the final fallback. It delegates to
// libsshBackend's forward unchanged — kept distinct because the state machine reports
// which backend is in effect, and the distinction matters for
// diagnosing "works over a plain exec.Command(ssh) but not through the
// library" reports.
type transportForwardBackend struct{}

func (transportForwardBackend) name() string { return "transport_forward" }

func (transportForwardBackend) forward(ctx context.Context, client *ssh.Client, sshPath string, host string, port int, localPort, remotePort int) (*tunnel, error) {
	return libsshBackend{}.forward(ctx, client, sshPath, host, port, localPort, remotePort)
}

// backendChain is the ordered fallback list: native subprocess first,
// then the async library backend, then the transport-only fallback.
func backendChain() []tunnelBackend {
	return []tunnelBackend{nativeSSHBackend{}, libsshBackend{}, transportForwardBackend{}}
}

// establishTunnel tries each backend in order, stopping at the first
// success. A host-key problem (surfaced as an *apierr.ConflictError by
// the caller's dial, before forward is ever reached) is never retried
// across backends — it is a property of the connection, not the
// forwarding mechanism.
func establishTunnel(ctx context.Context, client *ssh.Client, sshPath, host string, port, localPort, remotePort int) (*tunnel, error) {
	var lastErr error
	for _, b := range backendChain() {
		t, err := b.forward(ctx, client, sshPath, host, port, localPort, remotePort)
		if err == nil {
			return t, nil
		}
		lastErr = fmt.Errorf("%s: %w", b.name(), err)
	}
	return nil, fmt.Errorf("all tunnel backends failed: %w", lastErr)
}
