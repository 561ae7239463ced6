// Package messaging defines the contract the survey core uses to reach people.
//
// The core only ever sends plain text to a recipient (optionally inside a
// thread) and looks up display names for personalisation. Concrete clients
// live in sub-packages:
//   - telegram: Bot API via telebot
//   - dryrun: logs instead of sending (local runs, staging)
package messaging
