package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"recruitd/internal/domain"
)

type trackRow struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	StartMS int64  `db:"start_ms"`
	EndMS   int64  `db:"end_ms"`
}

func (r trackRow) track() domain.Track {
	return domain.Track{ID: r.ID, Name: r.Name, StartDate: fromMS(r.StartMS), EndDate: fromMS(r.EndMS)}
}

// CreateTrack inserts t and sets its ID. Tracks are owned by the enrollment
// system; this exists for seeding and tests.
func (r repo) CreateTrack(ctx context.Context, t *domain.Track) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO tracks(name, start_ms, end_ms) VALUES(?,?,?)`,
		t.Name, ms(t.StartDate), ms(t.EndDate),
	)
	if err != nil {
		return fmt.Errorf("create track: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (r repo) LoadTrack(ctx context.Context, id int64) (domain.Track, error) {
	var row trackRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT id, name, start_ms, end_ms FROM tracks WHERE id = ?`, id)
	if noRows(err) {
		return domain.Track{}, notFound("track", id)
	}
	if err != nil {
		return domain.Track{}, fmt.Errorf("load track: %w", err)
	}
	return row.track(), nil
}

// EnrollUser binds userID to trackID, replacing any previous binding.
func (r repo) EnrollUser(ctx context.Context, userID, trackID int64) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO track_members(user_id, track_id) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET track_id = excluded.track_id`,
		userID, trackID,
	)
	if err != nil {
		return fmt.Errorf("enroll user: %w", err)
	}
	return nil
}

// TrackOfUser returns the track userID is enrolled in.
func (r repo) TrackOfUser(ctx context.Context, userID int64) (domain.Track, error) {
	var row trackRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT t.id, t.name, t.start_ms, t.end_ms
		   FROM tracks t JOIN track_members m ON m.track_id = t.id
		  WHERE m.user_id = ?`, userID)
	if noRows(err) {
		return domain.Track{}, fmt.Errorf("track of user %d: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Track{}, fmt.Errorf("track of user: %w", err)
	}
	return row.track(), nil
}
