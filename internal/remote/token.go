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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// capabilityClaims scope a peer token to one connection for a bounded
// lifetime. The controller mints one per connection with a random
// per-connection secret, passes it to the launched peer process via
// environment variable, and presents it as a bearer token on its own
// health-probe calls through the tunnel — a narrow control-plane guard
// so a forwarded loopback port isn't usable by other local users on a
// shared host, not a user-facing auth layer.
type capabilityClaims struct {
	ConnectionID string `json:"connection_id"`
	jwt.RegisteredClaims
}

// issuePeerToken signs a capability token for connectionID, defaulting
// to the spec's 1-hour expiry.
func issuePeerToken(signingKey []byte, connectionID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := capabilityClaims{
		ConnectionID: connectionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   "peer",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

// verifyPeerToken validates a token previously issued by
// issuePeerToken and returns its connection id.
func verifyPeerToken(signingKey []byte, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &capabilityClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*capabilityClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid peer token")
	}
	return claims.ConnectionID, nil
}
