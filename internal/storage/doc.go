// Package storage provides the tabular backing store used as the survey ledger.
//
// The contract mirrors a spreadsheet: named tables of string cells addressed by
// 1-based rows and columns. There are no transactions and no row locks; callers
// that need read-then-write consistency must provide it themselves.
//
// Drivers:
//   - "memory": process-local tables (tests, dry runs)
//   - "sqlite": single-file SQLite database (modernc.org/sqlite)
//   - "sheets": Google Sheets spreadsheet (one sheet per table)
package storage
