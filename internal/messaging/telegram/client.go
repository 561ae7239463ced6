// Package telegram delivers survey messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"surveybot/internal/messaging"
	logx "surveybot/pkg/logx"
)

type Config struct {
	Token      string
	RatePerSec int
	// Offline skips the getMe call at construction (tests, dry starts).
	Offline bool
}

// Client implements messaging.Client. Telebot calls are not context-aware;
// ctx is checked between chunks and while waiting on the send limiter.
type Client struct {
	bot *tele.Bot
	log logx.Logger
	lim *rate.Limiter
}

var _ messaging.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	return &Client{
		bot: b,
		log: log.With(logx.String("comp", "telegram")),
		lim: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (c *Client) SendMessage(ctx context.Context, to messaging.Target, text string) error {
	chatID, threadID, err := parseTarget(to)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := c.lim.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		if _, err := c.bot.Send(chat, chunk, &tele.SendOptions{ThreadID: threadID}); err != nil {
			return fmt.Errorf("telegram send to %d: %w", chatID, err)
		}
		c.log.Debug("message sent", logx.Int64("chat_id", chatID), logx.Int("thread_id", threadID), logx.Duration("took", time.Since(start)))
	}
	return nil
}

// DisplayName returns "First Last" for users, falling back to the username or
// chat title.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", messaging.ErrInvalidTarget, userID)
	}
	if err := c.lim.Wait(ctx); err != nil {
		return "", err
	}
	chat, err := c.bot.ChatByID(id)
	if err != nil {
		return "", fmt.Errorf("telegram chat %d: %w", id, err)
	}
	return chatName(chat), nil
}

func chatName(ch *tele.Chat) string {
	if ch == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(ch.FirstName) + " " + strings.TrimSpace(ch.LastName))
	switch {
	case name != "":
		return name
	case ch.Username != "":
		return ch.Username
	default:
		return ch.Title
	}
}

func parseTarget(to messaging.Target) (int64, int, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to.ID), 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("%w: chat %q", messaging.ErrInvalidTarget, to.ID)
	}
	ref := strings.TrimSpace(to.ThreadRef)
	if ref == "" {
		return chatID, 0, nil
	}
	threadID, err := strconv.Atoi(ref)
	if err != nil || threadID < 0 {
		return 0, 0, fmt.Errorf("%w: thread %q", messaging.ErrInvalidTarget, to.ThreadRef)
	}
	return chatID, threadID, nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
