package ledger

import (
	"context"

	"surveybot/internal/storage"
)

// schema is the header row of a survey, indexed by text.
type schema struct {
	headers []string
	columns map[string]int // header text -> 1-based column; first occurrence wins
}

func newSchema(header []string) *schema {
	s := &schema{headers: header, columns: make(map[string]int, len(header))}
	for i, h := range header {
		if _, dup := s.columns[h]; !dup {
			s.columns[h] = i + 1
		}
	}
	return s
}

// questionColumn resolves a question header to its column. Fixed columns
// (User, Timestamp) are not questions.
func (s *schema) questionColumn(question string) (int, bool) {
	col, ok := s.columns[question]
	if !ok || col <= fixedColumns {
		return 0, false
	}
	return col, true
}

func (s *schema) questionCount() int {
	return max(0, len(s.headers)-fixedColumns)
}

func (l *Ledger) schema(ctx context.Context, name string) (*schema, error) {
	l.mu.Lock()
	s, ok := l.schemas[name]
	l.mu.Unlock()
	if ok {
		return s, nil
	}

	v, err, _ := l.loads.Do("schema\x00"+name, func() (any, error) {
		lctx, cancel := sharedContext(ctx)
		defer cancel()
		rows, err := l.store.ReadRange(lctx, name, storage.Rows(rowHeader, rowHeader))
		if err != nil {
			return nil, mapNotFound(err, name)
		}
		var header []string
		if len(rows) > 0 {
			header = rows[0]
		}
		s := newSchema(header)
		// An empty header is a half-created survey; re-read next time.
		if len(header) > 0 {
			l.mu.Lock()
			l.schemas[name] = s
			l.mu.Unlock()
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schema), nil
}
