// Package domain holds the recruitment model: tracks, schedules, studies and
// their membership records, together with the rules each entity enforces on
// its own. Rules spanning several entities (graduation, track match, the
// per-month study cap) live in the application services.
package domain
