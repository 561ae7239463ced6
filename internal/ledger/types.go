package ledger

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrPartialCreate = errors.New("ledger: survey may have left an orphaned empty table")
	ErrGroupExists   = errors.New("ledger: group already exists")
	ErrReservedName  = errors.New("ledger: reserved table name")
	ErrFixedHeader   = errors.New("ledger: question collides with a fixed column")
)

const (
	GroupsTable    = "Groups"
	TemplatesTable = "Templates"
)

// Fixed survey layout.
const (
	rowCreator = iota + 1
	rowRecipients
	rowReminderMessage
	rowReminderHours
	rowLastReminder
	rowDefinition
	rowHeader
	firstDataRow
)

// Leading non-question header columns.
const (
	HeaderUser      = "User"
	HeaderTimestamp = "Timestamp"

	fixedColumns = 2
)

// loadTimeout bounds shared cache loads, which outlive any single caller.
const loadTimeout = 30 * time.Second

// IsFixedHeader reports whether text names a fixed column and so cannot be
// used as a question.
func IsFixedHeader(text string) bool {
	return text == HeaderUser || text == HeaderTimestamp
}

// IsReserved reports whether name is a non-survey table.
func IsReserved(name string) bool {
	return name == GroupsTable || name == TemplatesTable
}

type RecipientKind string

const (
	KindIndividual RecipientKind = "individual"
	KindChannel    RecipientKind = "channel"
)

type Recipient struct {
	ID        string        `json:"id"`
	Kind      RecipientKind `json:"kind"`
	ThreadRef string        `json:"thread_ref,omitempty"`
}

type Question struct {
	Text    string   `json:"text"`
	Format  string   `json:"format,omitempty"`
	Options []string `json:"options,omitempty"`
}

type Definition struct {
	Questions []Question `json:"questions"`
}

// Details carries the creation-time metadata written to rows 2-5.
type Details struct {
	Recipients      []Recipient
	ReminderMessage string
	ReminderHours   int
	CreatedAt       time.Time
}

// Meta is the mutable reminder state of a survey.
type Meta struct {
	Creator         string
	Recipients      []Recipient
	ReminderMessage string
	ReminderHours   int
	LastReminder    time.Time
}

// Due reports whether a reminder window is open at now.
func (m Meta) Due(now time.Time) bool {
	if m.ReminderHours <= 0 || len(m.Recipients) == 0 {
		return false
	}
	next := m.LastReminder.UnixMilli() + int64(m.ReminderHours)*3_600_000
	return now.UnixMilli() >= next
}

type Group struct {
	Name      string
	Creator   string
	Members   []string
	CreatedAt time.Time
}
