// Package scheduler arms the timers that drive schedule lifecycles.
//
// Registry holds one-shot timers keyed by schedule id: registering a schedule
// atomically replaces everything previously armed for it, and callbacks that
// lost a race with a re-register or cancel are discarded. Cron runs the
// periodic jobs (the boundary sweep). Neither executes work itself: fired
// timers are handed to an Enqueuer (the task engine).
package scheduler
