package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"recruitd/internal/domain"
)

type recruitmentRow struct {
	ID        int64  `db:"id"`
	StudyID   int64  `db:"study_id"`
	UserID    int64  `db:"user_id"`
	Status    string `db:"status"`
	Leader    bool   `db:"leader"`
	CreatedMS int64  `db:"created_ms"`
}

func (r recruitmentRow) recruitment() domain.Recruitment {
	return domain.Recruitment{
		ID:        r.ID,
		StudyID:   r.StudyID,
		UserID:    r.UserID,
		Status:    domain.RecruitmentStatus(r.Status),
		Leader:    r.Leader,
		CreatedAt: fromMS(r.CreatedMS),
	}
}

// InsertRecruitment stores rec and sets its ID. A second row for the same
// (study, user) maps to domain.ErrAlreadyApplied.
func (r repo) InsertRecruitment(ctx context.Context, rec *domain.Recruitment) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO recruitments(study_id, user_id, status, leader, created_ms) VALUES(?,?,?,?,?)`,
		rec.StudyID, rec.UserID, string(rec.Status), rec.Leader, ms(rec.CreatedAt))
	if isUnique(err) {
		return domain.ErrAlreadyApplied
	}
	if err != nil {
		return fmt.Errorf("insert recruitment: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// ActiveRecruitment returns userID's ACTIVE recruitment in studyID.
func (r repo) ActiveRecruitment(ctx context.Context, studyID, userID int64) (domain.Recruitment, error) {
	var row recruitmentRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT id, study_id, user_id, status, leader, created_ms FROM recruitments
		  WHERE study_id = ? AND user_id = ? AND status = ?`,
		studyID, userID, string(domain.RecruitmentActive))
	if noRows(err) {
		return domain.Recruitment{}, domain.ErrNotApplied
	}
	if err != nil {
		return domain.Recruitment{}, fmt.Errorf("active recruitment: %w", err)
	}
	return row.recruitment(), nil
}

// ListRecruitments returns every recruitment of the study, leader first.
func (r repo) ListRecruitments(ctx context.Context, studyID int64) ([]domain.Recruitment, error) {
	var rows []recruitmentRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT id, study_id, user_id, status, leader, created_ms FROM recruitments
		  WHERE study_id = ? ORDER BY leader DESC, id`, studyID); err != nil {
		return nil, fmt.Errorf("list recruitments: %w", err)
	}
	out := make([]domain.Recruitment, len(rows))
	for i, row := range rows {
		out[i] = row.recruitment()
	}
	return out, nil
}

func (r repo) DeleteRecruitment(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM recruitments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recruitment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("recruitment", id)
	}
	return nil
}

// RejectRecruitments marks every ACTIVE recruitment of the study REJECTED.
func (r repo) RejectRecruitments(ctx context.Context, studyID int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE recruitments SET status = ? WHERE study_id = ? AND status = ?`,
		string(domain.RecruitmentRejected), studyID, string(domain.RecruitmentActive))
	if err != nil {
		return 0, fmt.Errorf("reject recruitments: %w", err)
	}
	return res.RowsAffected()
}

// CountActiveRecruitments counts userID's ACTIVE recruitments in studies of
// the given track month that have not been rejected or completed.
func (r repo) CountActiveRecruitments(ctx context.Context, userID, trackID int64, month domain.Month) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		`SELECT COUNT(*) FROM recruitments rc
		   JOIN studies st ON st.id = rc.study_id
		   JOIN schedules sc ON sc.id = st.schedule_id
		  WHERE rc.user_id = ? AND rc.status = ?
		    AND st.track_id = ? AND sc.month = ?
		    AND st.decision <> ? AND st.progress <> ?`,
		userID, string(domain.RecruitmentActive), trackID, int(month),
		string(domain.DecisionRejected), string(domain.ProgressCompleted))
	if err != nil {
		return 0, fmt.Errorf("count recruitments: %w", err)
	}
	return n, nil
}
