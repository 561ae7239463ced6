package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "surveybot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; it also makes AppendRows atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) exists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) error {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM tables WHERE name = ?`, name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTableNotFound
	}
	return err
}

func (s *sqliteStore) CreateTable(ctx context.Context, name string) error {
	if err := validTableName(name); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tables(name, created_at) VALUES(?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTableExists
	}
	return nil
}

func (s *sqliteStore) WriteRange(ctx context.Context, name string, r Range, rows [][]string) error {
	r = r.normalize()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.exists(ctx, tx, name); err != nil {
			return err
		}
		for i, src := range rows {
			for j, v := range src {
				row, col := r.FromRow+i, r.FromCol+j
				var err error
				if v == "" {
					_, err = tx.ExecContext(ctx, `DELETE FROM cells WHERE tbl = ? AND row = ? AND col = ?`, name, row, col)
				} else {
					_, err = tx.ExecContext(ctx,
						`INSERT INTO cells(tbl, row, col, val) VALUES(?,?,?,?)
						 ON CONFLICT(tbl, row, col) DO UPDATE SET val = excluded.val`,
						name, row, col, v,
					)
				}
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *sqliteStore) ReadRange(ctx context.Context, name string, r Range) ([][]string, error) {
	if err := s.exists(ctx, s.db, name); err != nil {
		return nil, err
	}
	r = r.normalize()
	toRow, toCol := r.ToRow, r.ToCol
	if toRow == 0 {
		toRow = int(^uint32(0) >> 1)
	}
	if toCol == 0 {
		toCol = maxColumn
	}
	rs, err := s.db.QueryContext(ctx,
		`SELECT row, col, val FROM cells
		 WHERE tbl = ? AND row BETWEEN ? AND ? AND col BETWEEN ? AND ?
		 ORDER BY row, col`,
		name, r.FromRow, toRow, r.FromCol, toCol,
	)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out [][]string
	for rs.Next() {
		var row, col int
		var val string
		if err := rs.Scan(&row, &col, &val); err != nil {
			return nil, err
		}
		ri, ci := row-r.FromRow, col-r.FromCol
		for len(out) <= ri {
			out = append(out, nil)
		}
		for len(out[ri]) <= ci {
			out[ri] = append(out[ri], "")
		}
		out[ri][ci] = val
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return trimRows(out), nil
}

func (s *sqliteStore) AppendRows(ctx context.Context, name string, rows [][]string) (int, error) {
	var first int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.exists(ctx, tx, name); err != nil {
			return err
		}
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(row) FROM cells WHERE tbl = ?`, name).Scan(&last); err != nil {
			return err
		}
		first = int(last.Int64) + 1
		for i, src := range rows {
			for j, v := range src {
				if v == "" {
					continue
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO cells(tbl, row, col, val) VALUES(?,?,?,?)`,
					name, first+i, j+1, v,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return first, nil
}

func (s *sqliteStore) DeleteRows(ctx context.Context, name string, from, to int) error {
	if from < 1 || to < from {
		return nil
	}
	n := to - from + 1
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.exists(ctx, tx, name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE tbl = ? AND row BETWEEN ? AND ?`, name, from, to); err != nil {
			return err
		}
		// Shift through negative rows so the primary key never collides mid-update.
		if _, err := tx.ExecContext(ctx, `UPDATE cells SET row = -(row - ?) WHERE tbl = ? AND row > ?`, n, name, to); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE cells SET row = -row WHERE tbl = ? AND row < 0`, name)
		return err
	})
}

func (s *sqliteStore) ListTables(ctx context.Context) ([]string, error) {
	rs, err := s.db.QueryContext(ctx, `SELECT name FROM tables ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	var out []string
	for rs.Next() {
		var name string
		if err := rs.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rs.Err()
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
