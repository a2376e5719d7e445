package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"recruitd/internal/domain"
)

type scheduleRow struct {
	ID             int64 `db:"id"`
	TrackID        int64 `db:"track_id"`
	Month          int   `db:"month"`
	RecruitStartMS int64 `db:"recruit_start_ms"`
	RecruitEndMS   int64 `db:"recruit_end_ms"`
	StudyEndMS     int64 `db:"study_end_ms"`
}

const scheduleCols = `id, track_id, month, recruit_start_ms, recruit_end_ms, study_end_ms`

func (r scheduleRow) schedule() domain.Schedule {
	return domain.Schedule{
		ID:               r.ID,
		TrackID:          r.TrackID,
		Month:            domain.Month(r.Month),
		RecruitStartDate: fromMS(r.RecruitStartMS),
		RecruitEndDate:   fromMS(r.RecruitEndMS),
		StudyEndDate:     fromMS(r.StudyEndMS),
	}
}

func toScheduleRow(s domain.Schedule) scheduleRow {
	return scheduleRow{
		ID:             s.ID,
		TrackID:        s.TrackID,
		Month:          int(s.Month),
		RecruitStartMS: ms(s.RecruitStartDate),
		RecruitEndMS:   ms(s.RecruitEndDate),
		StudyEndMS:     ms(s.StudyEndDate),
	}
}

func schedules(rows []scheduleRow) []domain.Schedule {
	out := make([]domain.Schedule, len(rows))
	for i, r := range rows {
		out[i] = r.schedule()
	}
	return out
}

func (r repo) LoadSchedule(ctx context.Context, id int64) (domain.Schedule, error) {
	var row scheduleRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	if noRows(err) {
		return domain.Schedule{}, notFound("schedule", id)
	}
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("load schedule: %w", err)
	}
	return row.schedule(), nil
}

// SchedulesByTrack lists a track's schedules ordered by month.
func (r repo) SchedulesByTrack(ctx context.Context, trackID int64) ([]domain.Schedule, error) {
	var rows []scheduleRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+scheduleCols+` FROM schedules WHERE track_id = ? ORDER BY month`, trackID); err != nil {
		return nil, fmt.Errorf("schedules by track: %w", err)
	}
	return schedules(rows), nil
}

// FindSchedulesWithFutureStudyEnd pages through schedules whose study end is
// after now, by ascending id starting after afterID.
func (r repo) FindSchedulesWithFutureStudyEnd(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []scheduleRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+scheduleCols+` FROM schedules
		  WHERE study_end_ms > ? AND id > ?
		  ORDER BY id LIMIT ?`, ms(now), afterID, limit); err != nil {
		return nil, fmt.Errorf("find schedules: %w", err)
	}
	return schedules(rows), nil
}

// FindSchedulesWithOverdueStudies returns schedules that still have a study
// which should already have moved on: RECRUITING past recruitEnd, or
// IN_PROGRESS past studyEnd.
func (r repo) FindSchedulesWithOverdueStudies(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	var rows []scheduleRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT DISTINCT sc.id, sc.track_id, sc.month, sc.recruit_start_ms, sc.recruit_end_ms, sc.study_end_ms
		   FROM schedules sc JOIN studies st ON st.schedule_id = sc.id
		  WHERE (sc.recruit_end_ms <= ? AND st.progress = ?)
		     OR (sc.study_end_ms <= ? AND st.progress = ?)
		  ORDER BY sc.id`,
		ms(now), string(domain.ProgressRecruiting), ms(now), string(domain.ProgressInProgress)); err != nil {
		return nil, fmt.Errorf("find overdue schedules: %w", err)
	}
	return schedules(rows), nil
}

func (r repo) CountStudiesBySchedule(ctx context.Context, scheduleID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, `SELECT COUNT(*) FROM studies WHERE schedule_id = ?`, scheduleID); err != nil {
		return 0, fmt.Errorf("count studies: %w", err)
	}
	return n, nil
}

// CreateSchedule inserts s and sets its ID. A duplicate (track, month) maps
// to domain.ErrScheduleMonthTaken.
func (t *Tx) CreateSchedule(ctx context.Context, s *domain.Schedule) error {
	res, err := sqlx.NamedExecContext(ctx, t.q,
		`INSERT INTO schedules(track_id, month, recruit_start_ms, recruit_end_ms, study_end_ms)
		 VALUES(:track_id, :month, :recruit_start_ms, :recruit_end_ms, :study_end_ms)`,
		toScheduleRow(*s))
	if isUnique(err) {
		return domain.ErrScheduleMonthTaken
	}
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	t.emit(ChangeCreate, *s)
	return nil
}

// UpdateSchedule rewrites the dates of s. Track and month are immutable.
func (t *Tx) UpdateSchedule(ctx context.Context, s domain.Schedule) error {
	res, err := sqlx.NamedExecContext(ctx, t.q,
		`UPDATE schedules
		    SET recruit_start_ms = :recruit_start_ms, recruit_end_ms = :recruit_end_ms, study_end_ms = :study_end_ms
		  WHERE id = :id`,
		toScheduleRow(s))
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("schedule", s.ID)
	}
	t.emit(ChangeUpdate, s)
	return nil
}

// DeleteSchedule removes schedule id. Callers check references first.
func (t *Tx) DeleteSchedule(ctx context.Context, id int64) error {
	s, err := t.LoadSchedule(ctx, id)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	t.emit(ChangeDelete, s)
	return nil
}
