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
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/crypto/ssh"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
)

// knownHostEntry is one host's pinned key, addressed by "host:port".
type knownHostEntry struct {
	KeyType   string `json:"key_type"`
	PublicKey []byte `json:"public_key"`
	Fingerprint string `json:"fingerprint_sha256"`
}

// knownHostsStore is a private, file-backed pin store independent of
// the user's own ~/.ssh/known_hosts — this controller never trusts the
// system store implicitly, only keys it has itself recorded, guarded
// on read-modify-write by the same flock discipline runstore uses for
// its per-run .lock files.
type knownHostsStore struct {
	path string
	mu   sync.Mutex
}

func newKnownHostsStore(path string) *knownHostsStore {
	return &knownHostsStore{path: path}
}

func (s *knownHostsStore) load() (map[string]knownHostEntry, error) {
	entries := map[string]knownHostEntry{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse known hosts store: %w", err)
	}
	return entries, nil
}

func (s *knownHostsStore) save(entries map[string]knownHostEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// withLock serializes access to the store file across goroutines in
// this process and across processes via flock on a dedicated lock
// file, matching runstore's advisory-locking model.
func (s *knownHostsStore) withLock(fn func(map[string]knownHostEntry) (map[string]knownHostEntry, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open known hosts lock: %w", err)
	}
	defer lf.Close()
	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock known hosts store: %w", err)
	}
	defer syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)

	entries, err := s.load()
	if err != nil {
		return err
	}
	updated, err := fn(entries)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	return s.save(updated)
}

// checkOrProblem validates key against the pinned entry for host:port.
// A missing entry or mismatched key returns an *apierr.ConflictError
// carrying the structured HostKeyProblem the caller must surface to
// the client; it never auto-trusts.
func (s *knownHostsStore) checkOrProblem(host string, port int, key ssh.PublicKey) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	entries, err := s.load()
	if err != nil {
		return err
	}

	fp := ssh.FingerprintSHA256(key)
	existing, ok := entries[addr]
	if !ok {
		return apierr.NewConflictError(apierr.HostKeyProblem{
			Host: host, Port: port, KeyType: key.Type(),
			FingerprintSHA: fp, PublicKeyBytes: key.Marshal(), Reason: "unknown",
		})
	}
	if existing.Fingerprint != fp {
		return apierr.NewConflictError(apierr.HostKeyProblem{
			Host: host, Port: port, KeyType: key.Type(),
			FingerprintSHA: fp, PublicKeyBytes: key.Marshal(),
			Reason: "changed", Expected: existing.Fingerprint,
		})
	}
	return nil
}

// upsert pins key for host:port, accepting it after the caller (a
// human confirming a 409 HostKeyProblem) has explicitly agreed.
func (s *knownHostsStore) upsert(host string, port int, keyType string, publicKey []byte) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	sum := sha256.Sum256(publicKey)
	fp := "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])

	return s.withLock(func(entries map[string]knownHostEntry) (map[string]knownHostEntry, error) {
		entries[addr] = knownHostEntry{KeyType: keyType, PublicKey: publicKey, Fingerprint: fp}
		return entries, nil
	})
}

// hostKeyCallback adapts the store to ssh.HostKeyCallback for use in
// an ssh.ClientConfig: the strict check on the library connection that
// every tunnel backend runs after (the native ssh subprocess then makes
// its own connection under the user's OpenSSH settings). host/port are the connection's own address, not the one
// ssh reports in hostname (which may be a resolved IP) — the pin is
// keyed on what the caller asked to connect to.
func (s *knownHostsStore) hostKeyCallback(host string, port int) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return s.checkOrProblem(host, port, key)
	}
}
