// Package ledger reads and writes surveys, responses and groups on top of a
// storage.Store.
//
// Each survey is one table with a fixed layout: rows 1-6 carry metadata
// (label in column A, value in column B), row 7 is the header
// (User, Timestamp, question 1..N) and responses start at row 8.
//
// The store has no transactions. Header lookups go through a per-survey schema
// cache and user rows through a per-survey row index; find-then-write on a
// (survey, user) pair is serialized in-process only. Two processes writing the
// same new user can still produce duplicate rows.
package ledger
