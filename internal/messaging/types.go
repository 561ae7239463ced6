package messaging

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidTarget = errors.New("messaging: invalid target")

// Target addresses a single destination.
// ThreadRef is optional and client-specific (Telegram: forum topic id).
type Target struct {
	ID        string
	ThreadRef string
}

func (t Target) IsZero() bool { return strings.TrimSpace(t.ID) == "" }

// Client is the messaging collaborator consumed by the survey core.
//
// Implementations must be safe for concurrent use and must honor ctx.
type Client interface {
	SendMessage(ctx context.Context, to Target, text string) error
	DisplayName(ctx context.Context, userID string) (string, error)
}

// FirstName returns the first whitespace-delimited token of a display name.
func FirstName(displayName string) string {
	f := strings.Fields(displayName)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
