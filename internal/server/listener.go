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

package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
)

// ListenConfig describes how the query/streaming server binds its socket.
type ListenConfig struct {
	// Addr is a host:port pair, e.g. "127.0.0.1:8000". Defaults to
	// 127.0.0.1:8000 when empty.
	Addr string

	// AllowRemote permits binding to a non-loopback address. Refused by
	// default: the server has no authentication layer, so exposing it
	// beyond localhost is an explicit, logged operator choice.
	AllowRemote bool

	TLSCert string
	TLSKey  string
}

// NewListener creates the TCP listener the server accepts connections on,
// enforcing the loopback-by-default policy and optional TLS termination.
func NewListener(cfg ListenConfig) (net.Listener, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8000"
	}

	if !cfg.AllowRemote && isRemoteAddr(addr) {
		return nil, fmt.Errorf(
			"binding to %s exposes the run index to the network with no authentication.\n"+
				"If you understand the risk, set allow_remote: true in the server config",
			addr,
		)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		return tls.NewListener(ln, tlsConfig), nil
	}

	return ln, nil
}

// isRemoteAddr returns true if addr binds to a non-loopback interface.
func isRemoteAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		if strings.HasPrefix(addr, ":") {
			host = ""
		}
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		return true
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return false
	}
	return true
}
