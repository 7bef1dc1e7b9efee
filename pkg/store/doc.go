// Package store persists runners and their run times in SQLite and derives
// the leaderboard.
//
// The store is the primary node's durable RecordSink: every completed race
// record is appended to the times table. Record IDs are unique, so a record
// delivered twice is stored once.
package store
