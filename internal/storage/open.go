package storage

import (
	"errors"
	"strings"

	logx "surveybot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "sheets", "gsheets":
		return openSheets(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func validTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("storage: empty table name")
	}
	return nil
}
