package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"surveybot/internal/messaging"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []messaging.Target
}

func (c *captureSender) SendMessage(_ context.Context, to messaging.Target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	return nil
}

func (c *captureSender) DisplayName(context.Context, string) (string, error) { return "", nil }

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	} {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "ledger"))
	log.Debug("hidden")
	log.Info("row appended", Int("row", 9), String("survey", "Pulse"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record written at info level: %s", out)
	}
	for _, want := range []string{`"comp":"ledger"`, `"row":9`, `"survey":"Pulse"`, `"message":"row appended"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %s missing %s", out, want)
		}
	}
	if !(Logger{}).IsZero() || Nop().IsZero() {
		t.Fatalf("IsZero mismatch")
	}
}

func TestAlertsForwardWarnings(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: t.TempDir() + "/surveybot.log"},
		Alerts: AlertConfig{
			Enabled:    true,
			Target:     messaging.Target{ID: "-100", ThreadRef: "7"},
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, sender)
	defer svc.Close()

	log.Info("routine")
	log.Warn("sweep failed", String("survey", "Pulse"))

	deadline := time.Now().Add(3 * time.Second)
	for sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no alert forwarded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1: %q", len(sender.sent), sender.sent)
	}
	if !strings.HasPrefix(sender.sent[0], "[WARN] sweep failed") || !strings.Contains(sender.sent[0], "survey=Pulse") {
		t.Fatalf("alert = %q", sender.sent[0])
	}
	if sender.to[0].ThreadRef != "7" {
		t.Fatalf("target = %+v", sender.to[0])
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}
