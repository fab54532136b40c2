// Package util provides small helpers shared across EvaluBot components.
package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// SessionTokenBytes is the entropy of a dashboard session token.
const SessionTokenBytes = 16

// GenerateSecureHex returns n cryptographically random bytes encoded as hex.
func GenerateSecureHex(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSessionToken returns a new dashboard access token (32 hex characters).
func GenerateSessionToken() (string, error) {
	return GenerateSecureHex(SessionTokenBytes)
}

// GenerateMessageID returns a unique transcript entry ID.
func GenerateMessageID() string {
	return "m_" + uuid.NewString()
}

// GenerateAnonymousUserID returns an ID for a chat participant that did not supply one.
func GenerateAnonymousUserID() string {
	return "u_" + uuid.NewString()
}
