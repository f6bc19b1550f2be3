// Package domain contains entities without logic, just meta-data and the
// shapes of the events exchanged with browser clients.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxIDLen bounds session and user identifiers accepted from clients.
const DefaultMaxIDLen = 64

type (
	UserID    string
	SessionID string
)

// NewUserID suggests a fresh identifier in the same shape the web client
// generates on its own (user_ followed by nine characters).
func NewUserID() UserID {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return UserID("user_" + raw[:9])
}
