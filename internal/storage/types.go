package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTableNotFound = errors.New("storage: table not found")
	ErrTableExists   = errors.New("storage: table already exists")
	ErrClosed        = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory"
//   - "sqlite": Path is the database file
//   - "sheets": SpreadsheetID plus credentials (file path or inline JSON);
//     when both are empty, GOOGLE_APPLICATION_CREDENTIALS[_JSON] is used
type Config struct {
	Driver string
	Path   string

	BusyTimeout time.Duration // sqlite only; 0 means default

	SpreadsheetID   string
	CredentialsFile string
	CredentialsJSON string
}

// Store is the tabular API the ledger is built on.
type Store interface {
	CreateTable(ctx context.Context, name string) error
	WriteRange(ctx context.Context, name string, r Range, rows [][]string) error
	// ReadRange returns ragged rows: trailing empty cells and trailing empty
	// rows are trimmed. An existing but empty range yields (nil, nil).
	ReadRange(ctx context.Context, name string, r Range) ([][]string, error)
	// AppendRows writes rows after the last non-empty row and returns the
	// 1-based row number of the first appended row.
	AppendRows(ctx context.Context, name string, rows [][]string) (int, error)
	// DeleteRows removes rows from..to (inclusive); later rows shift up.
	DeleteRows(ctx context.Context, name string, from, to int) error
	ListTables(ctx context.Context) ([]string, error)
	Close() error
}

// Range is a 1-based inclusive cell rectangle. A zero ToRow or ToCol means
// "unbounded" on that side.
type Range struct {
	FromRow, FromCol int
	ToRow, ToCol     int
}

// Cell addresses a single cell.
func Cell(row, col int) Range { return Range{FromRow: row, FromCol: col, ToRow: row, ToCol: col} }

// Rows addresses whole rows from..to (to=0 for unbounded).
func Rows(from, to int) Range { return Range{FromRow: from, FromCol: 1, ToRow: to} }

func (r Range) normalize() Range {
	if r.FromRow < 1 {
		r.FromRow = 1
	}
	if r.FromCol < 1 {
		r.FromCol = 1
	}
	return r
}

func (r Range) containsRow(row int) bool {
	return row >= r.FromRow && (r.ToRow == 0 || row <= r.ToRow)
}

func (r Range) containsCol(col int) bool {
	return col >= r.FromCol && (r.ToCol == 0 || col <= r.ToCol)
}

// maxColumn is the widest column Sheets accepts (ZZZ).
const maxColumn = 18278

// A1 renders the range in quoted A1 notation, e.g. 'Team Pulse'!A8:ZZZ.
func (r Range) A1(table string) string {
	r = r.normalize()
	toCol := r.ToCol
	if toCol == 0 {
		toCol = maxColumn
	}
	end := ColumnName(toCol)
	if r.ToRow > 0 {
		end += strconv.Itoa(r.ToRow)
	}
	return QuoteTable(table) + "!" + ColumnName(r.FromCol) + strconv.Itoa(r.FromRow) + ":" + end
}

// QuoteTable quotes a sheet name for A1 notation.
func QuoteTable(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ColumnName converts a 1-based column index to letters (1 -> A, 27 -> AA).
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// ParseCellRow extracts the starting row from an A1 range such as
// "'Sheet'!A9:E9" or "Sheet!A9". It returns 0 when no row is present.
func ParseCellRow(a1 string) int {
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		a1 = a1[i+1:]
	}
	if i := strings.Index(a1, ":"); i >= 0 {
		a1 = a1[:i]
	}
	j := 0
	for j < len(a1) && (a1[j] < '0' || a1[j] > '9') {
		j++
	}
	n, err := strconv.Atoi(a1[j:])
	if err != nil {
		return 0
	}
	return n
}

// trimRows applies the ragged-read contract.
func trimRows(rows [][]string) [][]string {
	for i := range rows {
		row := rows[i]
		n := len(row)
		for n > 0 && row[n-1] == "" {
			n--
		}
		rows[i] = row[:n]
	}
	n := len(rows)
	for n > 0 && len(rows[n-1]) == 0 {
		n--
	}
	if n == 0 {
		return nil
	}
	return rows[:n]
}
