package ledger

import (
	"context"
	"time"

	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

// UpsertResponse records answer for (user, question). An unknown question is
// logged and ignored. The user's row is updated in place when present,
// otherwise a new row is appended.
func (l *Ledger) UpsertResponse(ctx context.Context, name, user, question, answer string, ts time.Time) error {
	sch, err := l.schema(ctx, name)
	if err != nil {
		return err
	}
	col, ok := sch.questionColumn(question)
	if !ok {
		l.log.Warn("unknown question, response dropped",
			logx.String("survey", name),
			logx.String("user", user),
			logx.String("question", question),
		)
		return nil
	}

	unlock := l.locks.Lock(userKey(name, user))
	defer unlock()

	row, err := l.findRow(ctx, name, user)
	if err != nil {
		return err
	}
	if row > 0 {
		return l.store.WriteRange(ctx, name, storage.Cell(row, col), [][]string{{answer}})
	}

	rec := make([]string, max(len(sch.headers), col))
	rec[0] = user
	rec[1] = ts.UTC().Format(time.RFC3339)
	rec[col-1] = answer
	first, err := l.store.AppendRows(ctx, name, [][]string{rec})
	if err != nil {
		return err
	}
	l.rememberRow(name, user, first)
	l.log.Debug("response row appended", logx.String("survey", name), logx.String("user", user), logx.Int("row", first))
	return nil
}

// findRow returns the user's row or 0. A miss re-reads column A once so rows
// appended by other writers are picked up.
func (l *Ledger) findRow(ctx context.Context, name, user string) (int, error) {
	l.mu.Lock()
	row := l.rows[name][user]
	l.mu.Unlock()
	if row > 0 {
		return row, nil
	}

	if err := l.loadRows(ctx, name); err != nil {
		return 0, err
	}
	l.mu.Lock()
	row = l.rows[name][user]
	l.mu.Unlock()
	return row, nil
}

func (l *Ledger) loadRows(ctx context.Context, name string) error {
	_, err, _ := l.loads.Do("rows\x00"+name, func() (any, error) {
		lctx, cancel := sharedContext(ctx)
		defer cancel()
		rows, err := l.store.ReadRange(lctx, name, storage.Range{FromRow: firstDataRow, FromCol: 1, ToCol: 1})
		if err != nil {
			return nil, mapNotFound(err, name)
		}
		l.mergeRows(name, indexRows(rows))
		return nil, nil
	})
	return err
}

// mergeRows installs a freshly read index. Rows remembered while the read was
// in flight are newer than the read and are kept.
func (l *Ledger) mergeRows(name string, idx map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for user, row := range l.rows[name] {
		if _, ok := idx[user]; !ok {
			idx[user] = row
		}
	}
	l.rows[name] = idx
}

// indexRows maps the first cell of each data row to its row number.
// Duplicate users keep their first row.
func indexRows(rows [][]string) map[string]int {
	idx := make(map[string]int, len(rows))
	for i, r := range rows {
		if len(r) == 0 || r[0] == "" {
			continue
		}
		if _, dup := idx[r[0]]; !dup {
			idx[r[0]] = firstDataRow + i
		}
	}
	return idx
}

func (l *Ledger) rememberRow(name, user string, row int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.rows[name]
	if idx == nil {
		idx = map[string]int{}
		l.rows[name] = idx
	}
	if _, ok := idx[user]; !ok {
		idx[user] = row
	}
}
