// Package study is the application boundary for study operations. It loads
// the entities involved, applies the cross-entity guards (track, graduation,
// current month, per-month limit) and the domain rules, and persists the
// result in one transaction.
package study
