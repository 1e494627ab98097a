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

/*
Package secrets provides secure credential storage and retrieval.

This package implements a multi-backend secret management system with support
for environment variables, OS keychains, and file-based storage. Secrets are
resolved through a priority-ordered chain of backends.

# Overview

Key features:

  - Multiple storage backends (env, keychain, file)
  - Priority-ordered resolution
  - Secure storage using OS keychain
  - Configuration file integration

# Backends

The package provides several secret backends:

	env      - Environment variables (RUNICORN_SECRET_*)
	keychain - OS keychain (macOS Keychain, Linux Secret Service)
	file     - Encrypted file storage (for development)

Each backend implements the SecretBackend interface:

	type SecretBackend interface {
	    Name() string
	    Priority() int
	    Available() bool
	    Get(ctx context.Context, key string) (string, error)
	    Set(ctx context.Context, key, value string) error
	    Delete(ctx context.Context, key string) error
	    List(ctx context.Context) ([]string, error)
	}

# Usage

Create a resolver with multiple backends:

	fileBackend, err := secrets.NewFileBackend("/path/to/secrets.enc", "")
	if err != nil {
	    return err
	}
	resolver := secrets.NewResolver(
	    secrets.NewKeychainBackend(),
	    secrets.NewEnvBackend(),
	    fileBackend,
	)

Retrieve a secret:

	passphrase, err := resolver.Get(ctx, "ssh/gpu-box.lan/alice/passphrase")

Store a secret in the first writable backend (an empty backend name):

	err := resolver.Set(ctx, "ssh/gpu-box.lan/alice/passphrase", "secret-value", "")

# Priority Order

Backends are queried in priority order (highest first):

 1. Environment (priority 100) - read-only overrides
 2. Keychain (priority 50) - OS credential store
 3. File (priority 25) - Encrypted file storage

# Remote Controller Usage

The remote-viewer controller (internal/remote) uses this package as its
credentialStore: when a connect request carries neither a password nor a
private key path, an SSH password is looked up under
ssh/<host>/<username>/password before the connection is dialed. The
value is never logged or placed in an environment variable visible to
the launched peer process.

# Environment Variables

The env backend looks for variables prefixed with RUNICORN_SECRET_:

	export RUNICORN_SECRET_SSH_GPU_BOX_LAN_ALICE_PASSPHRASE=...

Key names are normalized:

  - ssh/gpu-box.lan/alice/passphrase → RUNICORN_SECRET_SSH_GPU_BOX_LAN_ALICE_PASSPHRASE
  - my_secret → RUNICORN_SECRET_MY_SECRET

# Keychain Integration

On macOS, secrets are stored in the system Keychain.
On Linux, the Secret Service API (GNOME Keyring, KWallet) is used.

The keychain backend requires no configuration and provides:

  - Encryption at rest
  - User-level access control
  - Integration with system credential management

# Error Handling

Common errors:

  - ErrSecretNotFound: Secret doesn't exist in any backend
  - ErrBackendUnavailable: No backends are available
*/
package secrets
