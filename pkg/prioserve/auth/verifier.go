/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth decides whether the Authorization header of a request carries a recognized token.
//
// Tokens are never configured in clear text: operators list the hex-encoded SHA3-256 digests of accepted tokens and
// the verifier compares the digest of each presented token against that set.
package auth

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const bearerPrefix = "Bearer "

// Verifier recognizes authorization tokens. A Verifier with no digests accepts any non-empty token.
type Verifier struct {
	digests map[string]struct{}
}

// NewVerifier creates a Verifier accepting the tokens whose SHA3-256 digests are listed in hexDigests.
func NewVerifier(hexDigests []string) (*Verifier, error) {
	v := &Verifier{digests: make(map[string]struct{}, len(hexDigests))}
	for _, d := range hexDigests {
		d = strings.ToLower(strings.TrimSpace(d))
		raw, err := hex.DecodeString(d)
		if err != nil {
			return nil, fmt.Errorf("invalid token digest %q: %w", d, err)
		}
		if len(raw) != sha3.New256().Size() {
			return nil, fmt.Errorf("invalid token digest %q: want %d bytes, got %d", d, sha3.New256().Size(), len(raw))
		}
		v.digests[d] = struct{}{}
	}
	return v, nil
}

// Open reports whether the verifier accepts any non-empty token.
func (v *Verifier) Open() bool {
	return len(v.digests) == 0
}

// Authenticate reports whether the Authorization header value carries a recognized token. An optional "Bearer "
// scheme prefix is ignored.
func (v *Verifier) Authenticate(headerValue string) bool {
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	if token == "" {
		return false
	}
	if v.Open() {
		return true
	}
	_, ok := v.digests[Digest(token)]
	return ok
}

// Digest returns the hex-encoded SHA3-256 digest of token.
func Digest(token string) string {
	sum := sha3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
