package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"surveybot/internal/messaging"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alerts  AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig forwards high-severity records to a chat through the messaging client.
type AlertConfig struct {
	Enabled    bool
	Target     messaging.Target
	MinLevel   string
	RatePerSec int
}

const (
	defaultLogPath  = "./surveybot.log"
	alertQueueSize  = 256
	alertSendBudget = 10 * time.Second
	alertMaxLen     = 3500
	alertValueLen   = 600
)

// Service owns the process log sinks. Apply rebuilds them in place; every
// Logger handed out by the Service picks up the change on its next record.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *os.File
	sender messaging.Client
	alerts alertState

	queue   chan alertMsg
	start   sync.Once
	stop    context.CancelFunc
	drained sync.WaitGroup
}

type alertState struct {
	to      messaging.Target
	min     zerolog.Level
	limiter *rate.Limiter
}

type alertMsg struct {
	to   messaging.Target
	text string
}

// New builds the Service from cfg and returns it with its root Logger.
// sender may be nil until the messaging client exists; see SetSender.
func New(cfg Config, sender messaging.Client) (*Service, Logger) {
	setGlobals()
	s := &Service{sender: sender, queue: make(chan alertMsg, alertQueueSize)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSender installs the messaging client used by the alert sink.
func (s *Service) SetSender(c messaging.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = c
}

// Close stops the alert worker and releases the log file. Records logged
// afterwards still reach the console sink if one was configured.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.stop
	s.file, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.drained.Wait()
	}
	if f == nil {
		return nil
	}
	return f.Close()
}

// Apply swaps sinks and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rps := max(1, cfg.Alerts.RatePerSec)
	s.alerts = alertState{
		to:      cfg.Alerts.Target,
		min:     ParseLevel(cfg.Alerts.MinLevel, zerolog.WarnLevel),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(Stdout()))
	}
	if w := s.reopenFileLocked(cfg.File); w != nil {
		sinks = append(sinks, w)
	}
	if cfg.Alerts.Enabled {
		s.startAlertsLocked()
		sinks = append(sinks, alertSink{s})
		if s.alerts.to.IsZero() {
			fmt.Fprintln(Stderr(), "logx: alerts enabled without logging.alerts.chat_id; nothing will be sent")
		}
	}
	if len(sinks) == 0 {
		sinks = []io.Writer{newConsoleWriter(Stdout())}
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) reopenFileLocked(fc FileConfig) io.Writer {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(Stderr(), "logx: open %s: %v\n", path, err)
		return nil
	}
	s.file = f
	return zerolog.SyncWriter(f)
}

func (s *Service) startAlertsLocked() {
	s.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.drained.Add(1)
		go func() {
			defer s.drained.Done()
			s.deliverAlerts(ctx)
		}()
	})
}

func (s *Service) deliverAlerts(ctx context.Context) {
	for {
		var m alertMsg
		select {
		case <-ctx.Done():
			return
		case m = <-s.queue:
		}
		s.mu.Lock()
		sender := s.sender
		s.mu.Unlock()
		if sender == nil {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, alertSendBudget)
		_ = sender.SendMessage(sctx, m.to, m.text)
		cancel()
	}
}

// alertSink is the zerolog writer that feeds the alert queue. It never blocks:
// records over the rate limit or with a full queue are dropped.
type alertSink struct{ s *Service }

func (a alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.InfoLevel, p) }

func (a alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.s.mu.Lock()
	st := a.s.alerts
	a.s.mu.Unlock()

	if st.to.IsZero() || st.limiter == nil || level < st.min || !st.limiter.Allow() {
		return len(p), nil
	}
	if text := renderAlert(p); text != "" {
		select {
		case a.s.queue <- alertMsg{to: st.to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// renderAlert turns a JSON record into "[LEVEL] message" followed by one
// "- key=value" line per remaining field, keys sorted.
func renderAlert(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return truncate(strings.TrimSpace(string(p)), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := rec["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(rec[k]), alertValueLen))
	}
	return truncate(b.String(), alertMaxLen)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	default:
		return s[:n-3] + "..."
	}
}
