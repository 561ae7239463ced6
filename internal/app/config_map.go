package app

import (
	"fmt"
	"strings"
	"time"

	"surveybot/internal/config"
	"surveybot/internal/idempotency"
	"surveybot/internal/messaging"
	"surveybot/internal/reminder"
	"surveybot/internal/storage"
	"surveybot/internal/task/scheduler"
	logx "surveybot/pkg/logx"
)

const (
	defaultSchedule     = "@every 1h"
	defaultSweepTimeout = 10 * time.Minute
	defaultBusyTimeout  = 5 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			Target:     messaging.Target{ID: strings.TrimSpace(l.Alerts.ChatID), ThreadRef: strings.TrimSpace(l.Alerts.ThreadRef)},
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	lc := cfg.Ledger
	busy, err := config.ParseDurationOrDefault("ledger.busy_timeout", lc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:          strings.ToLower(strings.TrimSpace(lc.Driver)),
		Path:            strings.TrimSpace(lc.Path),
		BusyTimeout:     busy,
		SpreadsheetID:   strings.TrimSpace(lc.SpreadsheetID),
		CredentialsFile: strings.TrimSpace(lc.CredentialsFile),
		CredentialsJSON: lc.CredentialsJSON,
	}, nil
}

func mapIdempotencyConfig(cfg *config.Config) (idempotency.Config, error) {
	ic := cfg.Idempotency
	ttl, err := config.ParseDurationOrDefault("idempotency.ttl", ic.TTL, idempotency.DefaultTTL)
	if err != nil {
		return idempotency.Config{}, err
	}
	return idempotency.Config{
		Driver:     strings.ToLower(strings.TrimSpace(ic.Driver)),
		Addr:       strings.TrimSpace(ic.Addr),
		Password:   ic.Password,
		DB:         ic.DB,
		Prefix:     ic.Prefix,
		TTL:        ttl,
		MaxEntries: ic.MaxEntries,
	}, nil
}

// reminderPlan is the effective reminder config after defaults.
type reminderPlan struct {
	Enabled      bool
	Schedule     string
	SweepTimeout time.Duration
	Sweeper      reminder.Config
	Scheduler    scheduler.Config
}

func mapReminderConfig(cfg *config.Config) (reminderPlan, error) {
	rc := cfg.Reminders
	callTimeout, err := config.ParseDurationField("reminders.call_timeout", rc.CallTimeout)
	if err != nil {
		return reminderPlan{}, err
	}
	sweepTimeout, err := config.ParseDurationOrDefault("reminders.sweep_timeout", rc.SweepTimeout, defaultSweepTimeout)
	if err != nil {
		return reminderPlan{}, err
	}
	schedule := strings.TrimSpace(rc.Schedule)
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := scheduler.ParseSchedule(schedule); err != nil {
		return reminderPlan{}, fmt.Errorf("reminders.schedule: %w", err)
	}
	return reminderPlan{
		Enabled:      rc.Enabled,
		Schedule:     schedule,
		SweepTimeout: sweepTimeout,
		Sweeper: reminder.Config{
			CallTimeout:     callTimeout,
			NameConcurrency: rc.NameLookupConcurrency,
		},
		Scheduler: scheduler.Config{
			Timezone:    strings.TrimSpace(rc.Timezone),
			HistorySize: rc.HistorySize,
		},
	}, nil
}
