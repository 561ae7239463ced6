package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// Durations are Go duration strings ("15s", "2m"). Sections marked live are
// applied on hot reload; the rest are read once at startup.
type Config struct {
	Messaging   MessagingConfig   `json:"messaging"`
	Ledger      LedgerConfig      `json:"ledger"`
	Reminders   RemindersConfig   `json:"reminders"`   // live
	Idempotency IdempotencyConfig `json:"idempotency"` // restart required
	Logging     LoggingConfig     `json:"logging"`     // live
	Debug       DebugConfig       `json:"debug,omitempty"`
}

// MessagingConfig selects the messaging client.
//
// Driver values: "telegram" (default) or "dryrun". The dryrun client logs
// outgoing messages instead of sending them; DryRunNames seeds its display
// name lookups.
type MessagingConfig struct {
	Driver      string            `json:"driver"`
	Token       string            `json:"token"` // never logged
	RatePerSec  int               `json:"rate_per_sec,omitempty"`
	DryRunNames map[string]string `json:"dry_run_names,omitempty"`
}

// LedgerConfig selects the tabular store backing the survey ledger.
//
// Example:
//
//	"ledger": { "driver": "sqlite", "path": "./surveybot.db" }
//	"ledger": { "driver": "sheets", "spreadsheet_id": "1AbC...", "credentials_file": "./sa.json" }
type LedgerConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	SpreadsheetID   string `json:"spreadsheet_id,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	CredentialsJSON string `json:"credentials_json,omitempty"` // never logged
}

// RemindersConfig controls the periodic reminder sweep.
//
// Schedule accepts the scheduler syntax: a cron expression, "@every 1h",
// "interval:30m", or a plain duration. Defaults: schedule "@every 1h",
// call_timeout "15s", sweep_timeout "10m", name_lookup_concurrency 4.
type RemindersConfig struct {
	Enabled               bool   `json:"enabled"`
	Schedule              string `json:"schedule,omitempty"`
	Timezone              string `json:"timezone,omitempty"`
	CallTimeout           string `json:"call_timeout,omitempty"`
	SweepTimeout          string `json:"sweep_timeout,omitempty"`
	NameLookupConcurrency int    `json:"name_lookup_concurrency,omitempty"`
	HistorySize           int    `json:"history_size,omitempty"`
}

// IdempotencyConfig controls deduplication of answer events.
type IdempotencyConfig struct {
	Driver     string `json:"driver"` // memory|redis
	Addr       string `json:"addr,omitempty"`
	Password   string `json:"password,omitempty"` // never logged
	DB         int    `json:"db,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	TTL        string `json:"ttl,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warn+ records to a chat via the messaging client.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id"`
	ThreadRef  string `json:"thread_ref,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DebugConfig controls the optional operational HTTP server (health,
// status JSON, pprof). Bind to loopback unless a token is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
