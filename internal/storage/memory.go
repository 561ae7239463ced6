package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	tables map[string][][]string
	order  []string
	closed bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{tables: map[string][][]string{}}
}

func (m *memoryStore) table(name string) ([][]string, error) {
	if m.closed {
		return nil, ErrClosed
	}
	t, ok := m.tables[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

func (m *memoryStore) CreateTable(_ context.Context, name string) error {
	if err := validTableName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tables[name]; ok {
		return ErrTableExists
	}
	m.tables[name] = nil
	m.order = append(m.order, name)
	return nil
}

func (m *memoryStore) WriteRange(_ context.Context, name string, r Range, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(name)
	if err != nil {
		return err
	}
	r = r.normalize()
	for i, src := range rows {
		ri := r.FromRow - 1 + i
		for len(t) <= ri {
			t = append(t, nil)
		}
		row := t[ri]
		for j, v := range src {
			ci := r.FromCol - 1 + j
			for len(row) <= ci {
				row = append(row, "")
			}
			row[ci] = v
		}
		t[ri] = row
	}
	m.tables[name] = t
	return nil
}

func (m *memoryStore) ReadRange(_ context.Context, name string, r Range) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(name)
	if err != nil {
		return nil, err
	}
	r = r.normalize()
	var out [][]string
	for ri := r.FromRow - 1; ri < len(t); ri++ {
		if !r.containsRow(ri + 1) {
			break
		}
		src := t[ri]
		var row []string
		for ci := r.FromCol - 1; ci < len(src); ci++ {
			if !r.containsCol(ci + 1) {
				break
			}
			row = append(row, src[ci])
		}
		out = append(out, row)
	}
	return trimRows(out), nil
}

func (m *memoryStore) AppendRows(_ context.Context, name string, rows [][]string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(name)
	if err != nil {
		return 0, err
	}
	t = trimRows(t)
	first := len(t) + 1
	for _, src := range rows {
		t = append(t, append([]string(nil), src...))
	}
	m.tables[name] = t
	return first, nil
}

func (m *memoryStore) DeleteRows(_ context.Context, name string, from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(name)
	if err != nil {
		return err
	}
	if from < 1 || to < from {
		return nil
	}
	if from > len(t) {
		return nil
	}
	if to > len(t) {
		to = len(t)
	}
	m.tables[name] = append(t[:from-1], t[to:]...)
	return nil
}

func (m *memoryStore) ListTables(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]string(nil), m.order...), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
