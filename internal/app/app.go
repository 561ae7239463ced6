package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"surveybot/internal/config"
	"surveybot/internal/eventbus"
	"surveybot/internal/idempotency"
	"surveybot/internal/ledger"
	"surveybot/internal/messaging"
	"surveybot/internal/messaging/dryrun"
	"surveybot/internal/messaging/telegram"
	"surveybot/internal/observability/debugsrv"
	"surveybot/internal/recipients"
	"surveybot/internal/reminder"
	"surveybot/internal/runtime/supervisor"
	"surveybot/internal/storage"
	"surveybot/internal/surveys"
	"surveybot/internal/task/scheduler"
	logx "surveybot/pkg/logx"
)

// SweepTask is the scheduler name of the reminder sweep.
const SweepTask = "reminders.sweep"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Memory

	store   storage.Store
	idem    idempotency.Cache
	msg     messaging.Client
	ledger  *ledger.Ledger
	surveys *surveys.Service
	sweeper *reminder.Sweeper
	sched   *scheduler.Service
	debug   *debugsrv.Server // nil when disabled

	remMu      sync.Mutex
	remApplied reminderPlan
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The alert sink gets its sender once the messaging client exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	cfgm.SetLogger(log)

	a, err := build(cfgm, cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.Manager, cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	msg, err := newMessenger(cfg, log)
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(msg)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}

	ic, err := mapIdempotencyConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	idem, err := idempotency.Open(ic, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open idempotency cache: %w", err)
	}

	plan, err := mapReminderConfig(cfg)
	if err != nil {
		_ = idem.Close()
		_ = store.Close()
		return nil, err
	}

	l := ledger.New(store, log)
	res := recipients.New(l, log)
	bus := eventbus.New()

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		idem:    idem,
		msg:     msg,
		ledger:  l,
		surveys: surveys.New(surveys.Config{IdempotencyTTL: ic.TTL}, l, res, idem, log),
		sweeper: reminder.New(plan.Sweeper, l, msg, log, reminder.WithEvents(bus)),
		sched:   scheduler.New(plan.Scheduler, log),
	}
	a.surveys.SetEvents(bus)
	if dc := cfg.Debug; dc.Enabled {
		a.debug = debugsrv.New(debugsrv.Config{Addr: dc.Addr, Token: dc.Token, AllowInsecure: dc.AllowInsecure}, a.status, log)
	}
	a.log.Info("components ready",
		logx.String("ledger", driverName(sc.Driver, "memory")),
		logx.String("messaging", driverName(cfg.Messaging.Driver, "telegram")),
		logx.String("idempotency", driverName(ic.Driver, "memory")),
	)
	return a, nil
}

func newMessenger(cfg *config.Config, log logx.Logger) (messaging.Client, error) {
	mc := cfg.Messaging
	switch driverName(mc.Driver, "telegram") {
	case "dryrun":
		return dryrun.New(log, mc.DryRunNames), nil
	default:
		return telegram.New(telegram.Config{Token: mc.Token, RatePerSec: mc.RatePerSec}, log)
	}
}

func driverName(raw, def string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return def
	}
	return s
}

func (a *App) Surveys() *surveys.Service  { return a.surveys }
func (a *App) Messenger() messaging.Client { return a.msg }
func (a *App) Scheduler() *scheduler.Service {
	return a.sched
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	initCtx, cancel := context.WithTimeout(a.sup.Context(), 30*time.Second)
	err := a.ledger.EnsureGroups(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("prepare groups table: %w", err)
	}

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapReminderConfig(cfg)
		return err
	})

	a.sched.Start(a.sup.Context())
	if err := a.applyReminders(a.cfgm.Get()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithMaxRestarts(5),
	)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("events.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	if a.debug != nil {
		if err := a.debug.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("start debug server: %w", err)
		}
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// Status is the document served at /debug/status.
type Status struct {
	Scheduler     scheduler.Snapshot  `json:"scheduler"`
	Supervisor    supervisor.Counters `json:"supervisor"`
	EventsDropped uint64              `json:"events_dropped"`
}

func (a *App) status() any {
	st := Status{Scheduler: a.sched.Snapshot(), EventsDropped: a.bus.Dropped()}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	return st
}

// Sweep runs one reminder sweep outside the schedule.
func (a *App) Sweep(ctx context.Context) (reminder.Report, error) {
	return a.sweeper.Sweep(ctx)
}

func (a *App) runSweep(ctx context.Context) error {
	rep, err := a.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	a.log.Debug("reminder sweep done",
		logx.Int("surveys", rep.Surveys),
		logx.Int("reminded", rep.Reminded),
		logx.Int("failed_surveys", rep.FailedSurveys),
	)
	return nil
}

// applyReminders pushes the reminder section into the sweeper and scheduler.
func (a *App) applyReminders(cfg *config.Config) error {
	plan, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}

	a.remMu.Lock()
	defer a.remMu.Unlock()

	a.sweeper.Apply(plan.Sweeper)
	a.sched.Apply(plan.Scheduler)

	if !plan.Enabled {
		if a.sched.Remove(SweepTask) {
			a.log.Info("reminder sweep disabled")
		}
		a.remApplied = plan
		return nil
	}
	if err := a.sched.AddSchedule(SweepTask, plan.Schedule, plan.SweepTimeout, a.runSweep); err != nil {
		return fmt.Errorf("schedule reminder sweep: %w", err)
	}
	if a.remApplied.Schedule != plan.Schedule || !a.remApplied.Enabled {
		a.log.Info("reminder sweep scheduled", logx.String("schedule", plan.Schedule), logx.Duration("timeout", plan.SweepTimeout))
	}
	a.remApplied = plan
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// Coalesce bursts.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}

		sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Debug("config reload received, but no effective changes detected")
			continue
		}
		if rr := config.RestartRequired(sections); len(rr) > 0 {
			a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", rr))
		}

		a.logs.Apply(mapLogConfig(newCfg))
		if err := a.applyReminders(newCfg); err != nil {
			a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
		}

		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
			if e.Survey != "" {
				fields = append(fields, logx.String("survey", e.Survey))
			}
			if e.User != "" {
				fields = append(fields, logx.String("user", e.User))
			}
			if rep, ok := e.Data.(reminder.Report); ok {
				fields = append(fields, logx.Int("reminded", rep.Reminded), logx.Int("failed_sends", rep.FailedSends))
			}
			a.log.Debug("event", fields...)
		}
	}
}

// Stop shuts components down in dependency order. Each step is bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeResources()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	if a.debug != nil {
		a.step(ctx, "debug", 2*time.Second, a.debug.Stop)
	}
	a.step(ctx, "scheduler", 5*time.Second, a.sched.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "resources", 2*time.Second, func(context.Context) error { return a.closeResources() })

	if d := a.bus.Dropped(); d > 0 {
		a.log.Debug("events dropped", logx.Int64("count", int64(d)))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeResources() error {
	var first error
	if a.idem != nil {
		if err := a.idem.Close(); err != nil {
			first = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline passed", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
