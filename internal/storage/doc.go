// Package storage is the sqlite-backed persistence layer.
//
// It stores tracks, schedules, studies with their recruitments and tags, the
// admin audit log and the notifier's dedup state. Writes that must be atomic
// run inside WithTx; schedule mutations made there are reported to OnCommit
// hooks only after the transaction commits.
package storage
