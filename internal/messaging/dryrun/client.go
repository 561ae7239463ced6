// Package dryrun is a messaging.Client that only logs. It lets the daemon run
// against a real ledger without contacting any chat platform.
package dryrun

import (
	"context"
	"sync"

	"surveybot/internal/messaging"
	logx "surveybot/pkg/logx"
)

// Sent is one recorded message.
type Sent struct {
	To   messaging.Target
	Text string
}

type Client struct {
	log   logx.Logger
	names map[string]string

	mu   sync.Mutex
	sent []Sent
}

var _ messaging.Client = (*Client)(nil)

// New returns a client resolving display names from names; unknown ids
// resolve to the id itself.
func New(log logx.Logger, names map[string]string) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{log: log.With(logx.String("comp", "messaging.dryrun")), names: names}
}

func (c *Client) SendMessage(ctx context.Context, to messaging.Target, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.IsZero() {
		return messaging.ErrInvalidTarget
	}
	c.mu.Lock()
	c.sent = append(c.sent, Sent{To: to, Text: text})
	c.mu.Unlock()
	c.log.Info("dry-run message",
		logx.String("to", to.ID),
		logx.String("thread", to.ThreadRef),
		logx.String("text", text),
	)
	return nil
}

func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n, ok := c.names[userID]; ok {
		return n, nil
	}
	return userID, nil
}

// Sent returns a copy of every message recorded so far.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}
