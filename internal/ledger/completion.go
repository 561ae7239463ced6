package ledger

import (
	"context"

	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

// IsAnswered reports whether the (user, question) cell is non-empty.
// Unknown questions and users are simply not answered.
func (l *Ledger) IsAnswered(ctx context.Context, name, user, question string) (bool, error) {
	sch, err := l.schema(ctx, name)
	if err != nil {
		return false, err
	}
	col, ok := sch.questionColumn(question)
	if !ok {
		l.log.Debug("completion check for unknown question", logx.String("survey", name), logx.String("question", question))
		return false, nil
	}
	row, err := l.findRow(ctx, name, user)
	if err != nil || row == 0 {
		return false, err
	}
	rows, err := l.store.ReadRange(ctx, name, storage.Cell(row, col))
	if err != nil {
		return false, mapNotFound(err, name)
	}
	return len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] != "", nil
}

// IsComplete reports whether every question cell of the user's row is filled.
func (l *Ledger) IsComplete(ctx context.Context, name, user string) (bool, error) {
	sch, err := l.schema(ctx, name)
	if err != nil {
		return false, err
	}
	row, err := l.findRow(ctx, name, user)
	if err != nil || row == 0 {
		return false, err
	}
	rows, err := l.store.ReadRange(ctx, name, storage.Rows(row, row))
	if err != nil {
		return false, mapNotFound(err, name)
	}
	if len(rows) == 0 {
		return false, nil
	}
	return complete(sch, rows[0]), nil
}

// CompletedUsers returns the users whose rows have every question answered.
// The read also refreshes the survey's row index.
func (l *Ledger) CompletedUsers(ctx context.Context, name string) (map[string]struct{}, error) {
	sch, err := l.schema(ctx, name)
	if err != nil {
		return nil, err
	}
	rows, err := l.store.ReadRange(ctx, name, storage.Rows(firstDataRow, 0))
	if err != nil {
		return nil, mapNotFound(err, name)
	}

	idx := indexRows(rows)
	l.mu.Lock()
	l.rows[name] = idx
	l.mu.Unlock()

	out := map[string]struct{}{}
	for user, row := range idx {
		if complete(sch, rows[row-firstDataRow]) {
			out[user] = struct{}{}
		}
	}
	return out, nil
}

func complete(sch *schema, row []string) bool {
	n := fixedColumns + sch.questionCount()
	if len(row) < n {
		return false
	}
	for _, v := range row[fixedColumns:n] {
		if v == "" {
			return false
		}
	}
	return true
}
