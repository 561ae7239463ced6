package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

// Ledger is the typed accessor over the survey tables.
type Ledger struct {
	store storage.Store
	log   logx.Logger

	mu      sync.Mutex
	schemas map[string]*schema
	rows    map[string]map[string]int // survey -> user -> row

	loads singleflight.Group
	locks keyedMutex
}

func New(store storage.Store, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		store:   store,
		log:     log.With(logx.String("comp", "ledger")),
		schemas: map[string]*schema{},
		rows:    map[string]map[string]int{},
	}
}

// Invalidate drops cached header bindings and row positions for a survey.
func (l *Ledger) Invalidate(name string) {
	l.mu.Lock()
	delete(l.schemas, name)
	delete(l.rows, name)
	l.mu.Unlock()
}

// CreateSurvey creates the table and writes the 7-row metadata block.
// A failure after the table exists is reported wrapped in ErrPartialCreate;
// nothing is rolled back.
func (l *Ledger) CreateSurvey(ctx context.Context, name, creator string, headers []string, d Details, definitionJSON string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("ledger: empty survey name")
	}
	if IsReserved(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	for _, h := range headers {
		if IsFixedHeader(h) {
			return fmt.Errorf("%w: %q", ErrFixedHeader, h)
		}
	}
	recipients := d.Recipients
	if recipients == nil {
		recipients = []Recipient{}
	}
	rj, err := json.Marshal(recipients)
	if err != nil {
		return err
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	defer l.Invalidate(name)
	if err := l.store.CreateTable(ctx, name); err != nil {
		return fmt.Errorf("create survey %q: %w", name, err)
	}

	header := append([]string{HeaderUser, HeaderTimestamp}, headers...)
	block := [][]string{
		{"Creator", creator},
		{"Recipients", string(rj)},
		{"Reminder Message", d.ReminderMessage},
		{"Reminder Hours", strconv.Itoa(d.ReminderHours)},
		{"Last Reminder", strconv.FormatInt(created.UnixMilli(), 10)},
		{"Definition", definitionJSON},
		header,
	}
	if err := l.store.WriteRange(ctx, name, storage.Range{FromRow: rowCreator, FromCol: 1}, block); err != nil {
		l.log.Error("survey metadata write failed", logx.String("survey", name), logx.Err(err))
		return fmt.Errorf("%w: %q: %v", ErrPartialCreate, name, err)
	}
	l.log.Info("survey created",
		logx.String("survey", name),
		logx.Int("questions", len(headers)),
		logx.Int("recipients", len(recipients)),
	)
	return nil
}

// Definition decodes the definition JSON in row 6.
func (l *Ledger) Definition(ctx context.Context, name string) (Definition, error) {
	raw, err := l.metaValue(ctx, name, rowDefinition)
	if err != nil {
		return Definition{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return Definition{}, fmt.Errorf("%w: definition of %q", ErrNotFound, name)
	}
	var def Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return Definition{}, fmt.Errorf("decode definition of %q: %w", name, err)
	}
	return def, nil
}

// QuestionText returns the header of the index-th question (0-based).
func (l *Ledger) QuestionText(ctx context.Context, name string, index int) (string, error) {
	sch, err := l.schema(ctx, name)
	if err != nil {
		return "", err
	}
	i := index + fixedColumns
	if index < 0 || i >= len(sch.headers) {
		return "", fmt.Errorf("%w: question %d of %q", ErrNotFound, index, name)
	}
	return sch.headers[i], nil
}

// HasQuestion reports whether question is a header of the survey.
func (l *Ledger) HasQuestion(ctx context.Context, name, question string) (bool, error) {
	sch, err := l.schema(ctx, name)
	if err != nil {
		return false, err
	}
	_, ok := sch.questionColumn(question)
	return ok, nil
}

// sharedContext detaches a cache load from the caller that happened to start
// it, so one short deadline does not fail every joined request.
func sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
}

// Surveys lists every non-reserved table.
func (l *Ledger) Surveys(ctx context.Context) ([]string, error) {
	tables, err := l.store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := tables[:0:0]
	for _, t := range tables {
		if !IsReserved(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Meta reads rows 1-5 in a single call.
func (l *Ledger) Meta(ctx context.Context, name string) (Meta, error) {
	rows, err := l.store.ReadRange(ctx, name, storage.Range{FromRow: rowCreator, FromCol: 2, ToRow: rowLastReminder, ToCol: 2})
	if err != nil {
		return Meta{}, mapNotFound(err, name)
	}
	val := func(row int) string {
		i := row - rowCreator
		if i < len(rows) && len(rows[i]) > 0 {
			return strings.TrimSpace(rows[i][0])
		}
		return ""
	}

	m := Meta{
		Creator:         val(rowCreator),
		ReminderMessage: val(rowReminderMessage),
	}
	if raw := val(rowRecipients); raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Recipients); err != nil {
			return Meta{}, fmt.Errorf("decode recipients of %q: %w", name, err)
		}
	}
	if raw := val(rowReminderHours); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil {
			return Meta{}, fmt.Errorf("reminder hours of %q: %w", name, err)
		}
		m.ReminderHours = h
	}
	last, err := parseMillis(val(rowLastReminder))
	if err != nil {
		return Meta{}, fmt.Errorf("last reminder of %q: %w", name, err)
	}
	m.LastReminder = last
	return m, nil
}

// SetLastReminder stores t unless the stored value is already at or after t.
func (l *Ledger) SetLastReminder(ctx context.Context, name string, t time.Time) error {
	raw, err := l.metaValue(ctx, name, rowLastReminder)
	if err != nil {
		return err
	}
	cur, err := parseMillis(raw)
	if err != nil {
		l.log.Warn("overwriting malformed last reminder", logx.String("survey", name), logx.String("value", raw))
	} else if !cur.IsZero() && t.UnixMilli() <= cur.UnixMilli() {
		return nil
	}
	return l.store.WriteRange(ctx, name, storage.Cell(rowLastReminder, 2),
		[][]string{{strconv.FormatInt(t.UnixMilli(), 10)}})
}

func (l *Ledger) metaValue(ctx context.Context, name string, row int) (string, error) {
	rows, err := l.store.ReadRange(ctx, name, storage.Cell(row, 2))
	if err != nil {
		return "", mapNotFound(err, name)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil
	}
	return rows[0][0], nil
}

func parseMillis(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func mapNotFound(err error, name string) error {
	if errors.Is(err, storage.ErrTableNotFound) {
		return fmt.Errorf("%w: survey %q", ErrNotFound, name)
	}
	return err
}
