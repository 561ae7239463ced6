package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

var groupHeader = []string{"Name", "Creator", "Members", "Created"}

// EnsureGroups creates the Groups table with its header when absent.
func (l *Ledger) EnsureGroups(ctx context.Context) error {
	err := l.store.CreateTable(ctx, GroupsTable)
	if errors.Is(err, storage.ErrTableExists) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.store.WriteRange(ctx, GroupsTable, storage.Rows(1, 1), [][]string{groupHeader})
}

// CreateGroup appends a group row. Names are unique.
func (l *Ledger) CreateGroup(ctx context.Context, g Group) error {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return errors.New("ledger: empty group name")
	}
	unlock := l.locks.Lock(GroupsTable)
	defer unlock()

	if err := l.EnsureGroups(ctx); err != nil {
		return err
	}
	rows, err := l.groupRows(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if len(r) > 0 && r[0] == g.Name {
			return fmt.Errorf("%w: %q", ErrGroupExists, g.Name)
		}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err = l.store.AppendRows(ctx, GroupsTable, [][]string{{
		g.Name,
		g.Creator,
		strings.Join(g.Members, ","),
		strconv.FormatInt(g.CreatedAt.UnixMilli(), 10),
	}})
	if err != nil {
		return err
	}
	l.log.Info("group created", logx.String("group", g.Name), logx.Int("members", len(g.Members)))
	return nil
}

// Group returns the first group row with the given name.
func (l *Ledger) Group(ctx context.Context, name string) (Group, error) {
	rows, err := l.groupRows(ctx)
	if err != nil {
		return Group{}, err
	}
	for _, r := range rows {
		if len(r) == 0 || r[0] != name {
			continue
		}
		g := Group{Name: r[0]}
		if len(r) > 1 {
			g.Creator = r[1]
		}
		if len(r) > 2 {
			g.Members = SplitMembers(r[2])
		}
		if len(r) > 3 {
			g.CreatedAt, _ = parseMillis(r[3])
		}
		return g, nil
	}
	return Group{}, fmt.Errorf("%w: group %q", ErrNotFound, name)
}

// DeleteGroup removes every row named name, bottom-up so row numbers stay valid.
func (l *Ledger) DeleteGroup(ctx context.Context, name string) (int, error) {
	unlock := l.locks.Lock(GroupsTable)
	defer unlock()

	rows, err := l.groupRows(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := len(rows) - 1; i >= 0; i-- {
		if len(rows[i]) == 0 || rows[i][0] != name {
			continue
		}
		row := 2 + i
		if err := l.store.DeleteRows(ctx, GroupsTable, row, row); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted == 0 {
		return 0, fmt.Errorf("%w: group %q", ErrNotFound, name)
	}
	l.log.Info("group deleted", logx.String("group", name), logx.Int("rows", deleted))
	return deleted, nil
}

func (l *Ledger) groupRows(ctx context.Context) ([][]string, error) {
	rows, err := l.store.ReadRange(ctx, GroupsTable, storage.Rows(2, 0))
	if errors.Is(err, storage.ErrTableNotFound) {
		return nil, nil
	}
	return rows, err
}

// SplitMembers parses a comma-delimited member list, trimming blanks.
func SplitMembers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
