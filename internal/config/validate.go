package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var ErrInvalid = errors.New("config: invalid")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks everything that can be checked without dialing out.
// Schedule syntax is validated by the caller, which owns the parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("config is nil")
	}

	switch driver(cfg.Messaging.Driver, "telegram") {
	case "telegram":
		if strings.TrimSpace(cfg.Messaging.Token) == "" {
			return invalid("messaging.token is required for the telegram driver")
		}
	case "dryrun":
	default:
		return invalid("messaging.driver: unknown %q", cfg.Messaging.Driver)
	}
	if cfg.Messaging.RatePerSec < 0 {
		return invalid("messaging.rate_per_sec must be >= 0")
	}

	switch driver(cfg.Ledger.Driver, "memory") {
	case "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Ledger.Path) == "" {
			return invalid("ledger.path is required for the sqlite driver")
		}
	case "sheets", "gsheets":
		if strings.TrimSpace(cfg.Ledger.SpreadsheetID) == "" {
			return invalid("ledger.spreadsheet_id is required for the sheets driver")
		}
	default:
		return invalid("ledger.driver: unknown %q", cfg.Ledger.Driver)
	}
	if _, err := ParseDurationField("ledger.busy_timeout", cfg.Ledger.BusyTimeout); err != nil {
		return err
	}

	r := cfg.Reminders
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return invalid("reminders.timezone: %q: %v", tz, err)
		}
	}
	if _, err := ParseDurationField("reminders.call_timeout", r.CallTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("reminders.sweep_timeout", r.SweepTimeout); err != nil {
		return err
	}
	if r.NameLookupConcurrency < 0 {
		return invalid("reminders.name_lookup_concurrency must be >= 0")
	}
	if r.HistorySize < 0 {
		return invalid("reminders.history_size must be >= 0")
	}

	switch driver(cfg.Idempotency.Driver, "memory") {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Idempotency.Addr) == "" {
			return invalid("idempotency.addr is required for the redis driver")
		}
	default:
		return invalid("idempotency.driver: unknown %q", cfg.Idempotency.Driver)
	}
	if _, err := ParseDurationField("idempotency.ttl", cfg.Idempotency.TTL); err != nil {
		return err
	}
	if cfg.Idempotency.MaxEntries < 0 {
		return invalid("idempotency.max_entries must be >= 0")
	}

	if d := cfg.Debug; d.Enabled && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			return invalid("debug.addr: %v", err)
		}
	}

	if a := cfg.Logging.Alerts; a.Enabled && strings.TrimSpace(a.ChatID) == "" {
		return invalid("logging.alerts.chat_id is required when alerts are enabled")
	}
	return nil
}

func driver(raw, def string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return def
	}
	return s
}
