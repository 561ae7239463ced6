package config

import (
	"reflect"
	"sort"
	"strings"

	logx "surveybot/pkg/logx"
)

// restartSections are read once at startup; a hot reload only warns.
var restartSections = map[string]bool{
	"messaging":   true,
	"ledger":      true,
	"idempotency": true,
	"debug":       true,
}

// SummarizeConfigChange lists the changed sections and returns log fields
// describing the new values. Secrets (tokens, passwords, credentials) are
// reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if o, n := oldCfg.Messaging, newCfg.Messaging; !reflect.DeepEqual(o, n) {
		changed = append(changed, "messaging")
		attrs = append(attrs,
			logx.String("messaging.driver", driver(n.Driver, "telegram")),
			logx.Bool("messaging.token_changed", o.Token != n.Token),
			logx.Int("messaging.rate_per_sec", n.RatePerSec),
		)
	}

	if o, n := oldCfg.Ledger, newCfg.Ledger; o != n {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.driver", driver(n.Driver, "memory")),
			logx.Bool("ledger.path_set", strings.TrimSpace(n.Path) != ""),
			logx.Bool("ledger.spreadsheet_set", strings.TrimSpace(n.SpreadsheetID) != ""),
			logx.Bool("ledger.credentials_set", n.CredentialsFile != "" || n.CredentialsJSON != ""),
		)
	}

	if o, n := oldCfg.Reminders, newCfg.Reminders; o != n {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Bool("reminders.enabled", n.Enabled),
			logx.String("reminders.schedule", strings.TrimSpace(n.Schedule)),
			logx.String("reminders.timezone", strings.TrimSpace(n.Timezone)),
			logx.String("reminders.call_timeout", strings.TrimSpace(n.CallTimeout)),
			logx.Int("reminders.name_lookup_concurrency", n.NameLookupConcurrency),
		)
	}

	if o, n := oldCfg.Idempotency, newCfg.Idempotency; o != n {
		changed = append(changed, "idempotency")
		attrs = append(attrs,
			logx.String("idempotency.driver", driver(n.Driver, "memory")),
			logx.Bool("idempotency.addr_set", strings.TrimSpace(n.Addr) != ""),
			logx.String("idempotency.ttl", strings.TrimSpace(n.TTL)),
		)
	}

	if o, n := oldCfg.Logging, newCfg.Logging; o != n {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Level),
			logx.Bool("logging.console", n.Console),
			logx.Bool("logging.file_enabled", n.File.Enabled),
			logx.Bool("logging.alerts_enabled", n.Alerts.Enabled),
		)
	}

	if o, n := oldCfg.Debug, newCfg.Debug; o != n {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", n.Enabled),
			logx.String("debug.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("debug.token_set", n.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters sections down to those a hot reload cannot apply.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
