// Package reminder implements the periodic sweep that decides, per survey,
// whom to remind and records when it last did.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"surveybot/internal/eventbus"
	"surveybot/internal/ledger"
	"surveybot/internal/messaging"
	logx "surveybot/pkg/logx"
)

// Placeholder is replaced by the recipient's first name.
const Placeholder = "[firstName]"

// Ledger is the subset of *ledger.Ledger the sweep reads and writes.
type Ledger interface {
	Surveys(ctx context.Context) ([]string, error)
	Meta(ctx context.Context, name string) (ledger.Meta, error)
	Definition(ctx context.Context, name string) (ledger.Definition, error)
	CompletedUsers(ctx context.Context, name string) (map[string]struct{}, error)
	SetLastReminder(ctx context.Context, name string, t time.Time) error
}

type Config struct {
	// CallTimeout bounds each ledger or messaging call.
	CallTimeout time.Duration
	// NameConcurrency bounds parallel display-name lookups per survey.
	NameConcurrency int
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.NameConcurrency <= 0 {
		c.NameConcurrency = 4
	}
	return c
}

// Report summarizes one sweep.
type Report struct {
	Surveys       int
	Skipped       int
	Reminded      int
	FailedSends   int
	FailedSurveys int
}

type Option func(*Sweeper)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithEvents publishes a summary event after every sweep.
func WithEvents(bus eventbus.Bus) Option {
	return func(s *Sweeper) {
		if bus != nil {
			s.events = bus
		}
	}
}

type Sweeper struct {
	mu  sync.RWMutex
	cfg Config

	ledger Ledger
	msg    messaging.Client
	log    logx.Logger
	now    func() time.Time
	events eventbus.Bus
}

func New(cfg Config, l Ledger, msg messaging.Client, log logx.Logger, opts ...Option) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{
		cfg:    cfg.withDefaults(),
		ledger: l,
		msg:    msg,
		log:    log.With(logx.String("comp", "reminder")),
		now:    time.Now,
		events: eventbus.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps timeouts and concurrency for subsequent sweeps.
func (s *Sweeper) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Sweeper) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Sweep evaluates every survey once. Only a failure to list surveys (or ctx
// cancellation) is returned; per-survey failures are logged and counted.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	cfg := s.config()
	now := s.now()
	var rep Report

	names, err := call(ctx, cfg.CallTimeout, s.ledger.Surveys)
	if err != nil {
		return rep, fmt.Errorf("list surveys: %w", err)
	}
	rep.Surveys = len(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.sweepSurvey(ctx, cfg, name, now, &rep); err != nil {
			rep.FailedSurveys++
			s.log.Warn("survey sweep failed", logx.String("survey", name), logx.Err(err))
		}
	}
	s.events.Publish(eventbus.Event{Type: eventbus.SweepFinished, Time: now, Data: rep})
	if rep.Reminded > 0 || rep.FailedSends > 0 || rep.FailedSurveys > 0 {
		s.log.Info("sweep finished",
			logx.Int("surveys", rep.Surveys),
			logx.Int("skipped", rep.Skipped),
			logx.Int("reminded", rep.Reminded),
			logx.Int("failed_sends", rep.FailedSends),
			logx.Int("failed_surveys", rep.FailedSurveys),
		)
	}
	return rep, nil
}

func (s *Sweeper) sweepSurvey(ctx context.Context, cfg Config, name string, now time.Time, rep *Report) error {
	log := s.log.With(logx.String("survey", name))

	meta, err := call(ctx, cfg.CallTimeout, func(c context.Context) (ledger.Meta, error) {
		return s.ledger.Meta(c, name)
	})
	if err != nil {
		return err
	}
	if !meta.Due(now) {
		rep.Skipped++
		return nil
	}
	if _, err := call(ctx, cfg.CallTimeout, func(c context.Context) (ledger.Definition, error) {
		return s.ledger.Definition(c, name)
	}); err != nil {
		return err
	}

	people := s.enrich(ctx, cfg, log, meta.Recipients)

	done, err := call(ctx, cfg.CallTimeout, func(c context.Context) (map[string]struct{}, error) {
		return s.ledger.CompletedUsers(c, name)
	})
	if err != nil {
		return err
	}

	tmpl := meta.ReminderMessage
	if strings.TrimSpace(tmpl) == "" {
		tmpl = fmt.Sprintf("Hi %s, please complete the survey %q.", Placeholder, name)
	}
	for _, p := range people {
		if _, ok := done[p.ID]; ok {
			continue
		}
		text := strings.ReplaceAll(tmpl, Placeholder, messaging.FirstName(p.name))
		to := messaging.Target{ID: p.ID, ThreadRef: p.ThreadRef}
		cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err := s.msg.SendMessage(cctx, to, text)
		cancel()
		if err != nil {
			rep.FailedSends++
			log.Warn("reminder send failed", logx.String("user", p.ID), logx.Err(err))
			continue
		}
		rep.Reminded++
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	if err := s.ledger.SetLastReminder(cctx, name, now); err != nil {
		return fmt.Errorf("persist last reminder: %w", err)
	}
	return nil
}

type person struct {
	ledger.Recipient
	name string
}

// enrich resolves display names for individual recipients. Channels never get
// reminders and are dropped here; a failed lookup drops that recipient for
// this sweep only.
func (s *Sweeper) enrich(ctx context.Context, cfg Config, log logx.Logger, rcpts []ledger.Recipient) []person {
	people := make([]person, 0, len(rcpts))
	for _, r := range rcpts {
		if r.Kind == ledger.KindChannel {
			continue
		}
		if strings.TrimSpace(r.ID) == "" || (r.Kind != "" && r.Kind != ledger.KindIndividual) {
			log.Debug("malformed recipient skipped", logx.String("id", r.ID), logx.String("kind", string(r.Kind)))
			continue
		}
		people = append(people, person{Recipient: r})
	}

	ok := make([]bool, len(people))
	var g errgroup.Group
	g.SetLimit(cfg.NameConcurrency)
	for i := range people {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
			defer cancel()
			n, err := s.msg.DisplayName(cctx, people[i].ID)
			if err != nil {
				log.Warn("display name lookup failed", logx.String("user", people[i].ID), logx.Err(err))
				return nil
			}
			people[i].name = n
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := people[:0]
	for i, p := range people {
		if ok[i] {
			out = append(out, p)
		}
	}
	return out
}

func call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(cctx)
}
