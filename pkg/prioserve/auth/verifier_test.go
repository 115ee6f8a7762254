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

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	t.Parallel()
	// SHA3-256 of the empty string.
	assert.Equal(t, "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a", Digest(""))
	assert.Len(t, Digest("secret"), 64)
	assert.NotEqual(t, Digest("secret"), Digest("Secret"))
}

func TestVerifier_Authenticate(t *testing.T) {
	t.Parallel()

	restricted, err := NewVerifier([]string{Digest("alpha"), "  " + Digest("beta") + " "})
	require.NoError(t, err)
	open, err := NewVerifier(nil)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		verifier *Verifier
		value    string
		want     bool
	}{
		{name: "open accepts any token", verifier: open, value: "imagine-this-was-a-real-auth-token", want: true},
		{name: "open rejects empty value", verifier: open, value: "", want: false},
		{name: "open rejects bare scheme", verifier: open, value: "Bearer ", want: false},
		{name: "known token", verifier: restricted, value: "alpha", want: true},
		{name: "known bearer token", verifier: restricted, value: "Bearer beta", want: true},
		{name: "unknown token", verifier: restricted, value: "gamma", want: false},
		{name: "case matters", verifier: restricted, value: "ALPHA", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.verifier.Authenticate(tc.value))
		})
	}

	assert.True(t, open.Open())
	assert.False(t, restricted.Open())
}

func TestNewVerifier_InvalidDigest(t *testing.T) {
	t.Parallel()
	_, err := NewVerifier([]string{"not-hex"})
	assert.Error(t, err)

	_, err = NewVerifier([]string{"abcd"})
	assert.ErrorContains(t, err, "want 32 bytes")
}
