// Package lifecycle turns schedule dates into armed timers and timer fires
// into lifecycle events and study transitions.
//
// Manager plans the timers of one schedule and hands them to the
// scheduler.Registry. Executor runs a fired timer against freshly loaded
// data. Reconciler rebuilds the timers after a restart and converges studies
// whose boundary passed while nothing was running. Listener keeps the timers
// in step with committed schedule edits.
package lifecycle
