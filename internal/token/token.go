// Package token issues and checks the per-process capture-client credential.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// entropyBytes is the raw entropy drawn for one session token.
const entropyBytes = 32

// Session is the single credential a capture client must present to use
// the control channel. It lives exactly as long as the process.
type Session struct {
	value string
}

// Generate draws a fresh URL-safe session token from the system CSPRNG.
func Generate() (Session, error) {
	raw := make([]byte, entropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}
	return Session{value: base64.RawURLEncoding.EncodeToString(raw)}, nil
}

// Validate reports whether candidate matches the session token exactly.
// Comparison is constant-time.
func (s Session) Validate(candidate string) bool {
	if s.value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(candidate)) == 1
}

// String returns the full token for embedding in the bootstrap URL.
func (s Session) String() string {
	return s.value
}

// Truncated returns a log-safe prefix of the token.
func (s Session) Truncated() string {
	const visible = 8
	if len(s.value) <= visible {
		return s.value
	}
	return s.value[:visible] + "..."
}
