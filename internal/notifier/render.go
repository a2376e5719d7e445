package notifier

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"recruitd/internal/lifecycle"
)

// Render turns a lifecycle event into a Notification. ok is false for event
// types the relay does not know.
func Render(ev lifecycle.Event) (Notification, bool) {
	ref := ev.Ref()
	n := Notification{
		Topic:      ev.Topic(),
		Key:        dedupKey(ev.Topic(), ref.ScheduleID, ref.At),
		ScheduleID: ref.ScheduleID,
		TrackID:    ref.TrackID,
		Month:      ref.Month,
		At:         ref.At,
		Event:      ev,
	}
	switch e := ev.(type) {
	case lifecycle.RecruitmentStarted:
		n.Text = fmt.Sprintf("Month %d study recruitment is open; it closes %s (%s).",
			e.Month, humanize.RelTime(e.RecruitEndDate, e.At, "ago", "from now"), stamp(e.RecruitEndDate))
	case lifecycle.RecruitmentEndingSoon:
		n.Text = fmt.Sprintf("Month %d study recruitment closes %s (%s).",
			e.Month, humanize.RelTime(e.RecruitEndDate, e.At, "ago", "from now"), stamp(e.RecruitEndDate))
	case lifecycle.StudyEndingSoon:
		n.Text = fmt.Sprintf("Month %d studies end %s (%s).",
			e.Month, humanize.RelTime(e.StudyEndDate, e.At, "ago", "from now"), stamp(e.StudyEndDate))
	default:
		return Notification{}, false
	}
	return n, true
}

func stamp(t time.Time) string { return t.Format("2006-01-02 15:04 MST") }

func dedupKey(topic string, scheduleID int64, at time.Time) string {
	return fmt.Sprintf("%s:%d:%d", topic, scheduleID, at.Unix())
}
