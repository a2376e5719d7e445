package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"recruitd/internal/domain"
)

type studyRow struct {
	ID              int64  `db:"id"`
	Name            string `db:"name"`
	LeaderID        int64  `db:"leader_id"`
	TrackID         int64  `db:"track_id"`
	ScheduleID      int64  `db:"schedule_id"`
	Description     string `db:"description"`
	Progress        string `db:"progress"`
	Decision        string `db:"decision"`
	Capacity        int    `db:"capacity"`
	MemberCount     int    `db:"member_count"`
	Budget          string `db:"budget"`
	BudgetExplain   string `db:"budget_explain"`
	PlanWeek1       string `db:"plan_week1"`
	PlanWeek2       string `db:"plan_week2"`
	PlanWeek3       string `db:"plan_week3"`
	PlanWeek4       string `db:"plan_week4"`
	ExternalChatURL string `db:"external_chat_url"`
	ReferenceURL    string `db:"reference_url"`
	Version         int64  `db:"version"`
	CreatedMS       int64  `db:"created_ms"`
	UpdatedMS       int64  `db:"updated_ms"`
}

const studyCols = `id, name, leader_id, track_id, schedule_id, description, progress, decision,
	capacity, member_count, budget, budget_explain, plan_week1, plan_week2, plan_week3, plan_week4,
	external_chat_url, reference_url, version, created_ms, updated_ms`

func (r studyRow) study() *domain.Study {
	return &domain.Study{
		ID:              r.ID,
		Name:            r.Name,
		LeaderID:        r.LeaderID,
		TrackID:         r.TrackID,
		ScheduleID:      r.ScheduleID,
		Description:     r.Description,
		Progress:        domain.Progress(r.Progress),
		Decision:        domain.Decision(r.Decision),
		Capacity:        r.Capacity,
		MemberCount:     r.MemberCount,
		Budget:          domain.Budget(r.Budget),
		BudgetExplain:   r.BudgetExplain,
		Plan:            [4]string{r.PlanWeek1, r.PlanWeek2, r.PlanWeek3, r.PlanWeek4},
		ExternalChatURL: r.ExternalChatURL,
		ReferenceURL:    r.ReferenceURL,
		Version:         r.Version,
		CreatedAt:       fromMS(r.CreatedMS),
		UpdatedAt:       fromMS(r.UpdatedMS),
	}
}

func toStudyRow(s *domain.Study) studyRow {
	return studyRow{
		ID:              s.ID,
		Name:            s.Name,
		LeaderID:        s.LeaderID,
		TrackID:         s.TrackID,
		ScheduleID:      s.ScheduleID,
		Description:     s.Description,
		Progress:        string(s.Progress),
		Decision:        string(s.Decision),
		Capacity:        s.Capacity,
		MemberCount:     s.MemberCount,
		Budget:          string(s.Budget),
		BudgetExplain:   s.BudgetExplain,
		PlanWeek1:       s.Plan[0],
		PlanWeek2:       s.Plan[1],
		PlanWeek3:       s.Plan[2],
		PlanWeek4:       s.Plan[3],
		ExternalChatURL: s.ExternalChatURL,
		ReferenceURL:    s.ReferenceURL,
		Version:         s.Version,
		CreatedMS:       ms(s.CreatedAt),
		UpdatedMS:       ms(s.UpdatedAt),
	}
}

// LoadStudy returns the study with its tags.
func (r repo) LoadStudy(ctx context.Context, id int64) (*domain.Study, error) {
	var row studyRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+studyCols+` FROM studies WHERE id = ?`, id)
	if noRows(err) {
		return nil, notFound("study", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load study: %w", err)
	}
	s := row.study()
	if s.Tags, err = r.studyTags(ctx, id); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadStudiesByScheduleID returns every study bound to the schedule, oldest
// first. Tags are not loaded.
func (r repo) LoadStudiesByScheduleID(ctx context.Context, scheduleID int64) ([]*domain.Study, error) {
	var rows []studyRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+studyCols+` FROM studies WHERE schedule_id = ? ORDER BY id`, scheduleID); err != nil {
		return nil, fmt.Errorf("studies by schedule: %w", err)
	}
	out := make([]*domain.Study, len(rows))
	for i, row := range rows {
		out[i] = row.study()
	}
	return out, nil
}

// InsertStudy stores a new study and its tags, setting ID and Version.
func (r repo) InsertStudy(ctx context.Context, s *domain.Study) error {
	s.Version = 1
	res, err := sqlx.NamedExecContext(ctx, r.q,
		`INSERT INTO studies(name, leader_id, track_id, schedule_id, description, progress, decision,
			capacity, member_count, budget, budget_explain, plan_week1, plan_week2, plan_week3, plan_week4,
			external_chat_url, reference_url, version, created_ms, updated_ms)
		 VALUES(:name, :leader_id, :track_id, :schedule_id, :description, :progress, :decision,
			:capacity, :member_count, :budget, :budget_explain, :plan_week1, :plan_week2, :plan_week3, :plan_week4,
			:external_chat_url, :reference_url, :version, :created_ms, :updated_ms)`,
		toStudyRow(s))
	if err != nil {
		return fmt.Errorf("insert study: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	return r.SetStudyTags(ctx, s.ID, s.Tags)
}

// SaveStudy writes every column of s if the stored version still equals
// s.Version, then bumps s.Version. A lost race returns
// domain.ErrStudyConflict. Tags are not touched.
func (r repo) SaveStudy(ctx context.Context, s *domain.Study) error {
	res, err := sqlx.NamedExecContext(ctx, r.q,
		`UPDATE studies SET
			name = :name, description = :description, progress = :progress, decision = :decision,
			capacity = :capacity, member_count = :member_count, budget = :budget,
			budget_explain = :budget_explain, plan_week1 = :plan_week1, plan_week2 = :plan_week2,
			plan_week3 = :plan_week3, plan_week4 = :plan_week4, external_chat_url = :external_chat_url,
			reference_url = :reference_url, updated_ms = :updated_ms, version = version + 1
		  WHERE id = :id AND version = :version`,
		toStudyRow(s))
	if err != nil {
		return fmt.Errorf("save study: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.studyVersion(ctx, s.ID); err != nil {
			return err
		}
		return domain.ErrStudyConflict
	}
	s.Version++
	return nil
}

func (r repo) studyVersion(ctx context.Context, id int64) (int64, error) {
	var v int64
	err := sqlx.GetContext(ctx, r.q, &v, `SELECT version FROM studies WHERE id = ?`, id)
	if noRows(err) {
		return 0, notFound("study", id)
	}
	return v, err
}

// AddMember increments member_count only while it is below capacity and the
// study's progress is one of allowed. It reports whether the row changed; the
// caller re-reads the study to explain a refusal.
func (r repo) AddMember(ctx context.Context, studyID int64, now time.Time, allowed ...domain.Progress) (bool, error) {
	if len(allowed) == 0 {
		allowed = []domain.Progress{domain.ProgressRecruiting}
	}
	states := make([]string, len(allowed))
	for i, p := range allowed {
		states[i] = string(p)
	}
	query, args, err := sqlx.In(
		`UPDATE studies SET member_count = member_count + 1, version = version + 1, updated_ms = ?
		  WHERE id = ? AND member_count < capacity AND decision <> ? AND progress IN (?)`,
		ms(now), studyID, string(domain.DecisionRejected), states)
	if err != nil {
		return false, err
	}
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RemoveMember decrements member_count while the study is still recruiting.
func (r repo) RemoveMember(ctx context.Context, studyID int64, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE studies SET member_count = member_count - 1, version = version + 1, updated_ms = ?
		  WHERE id = ? AND member_count > 1 AND progress = ?`,
		ms(now), studyID, string(domain.ProgressRecruiting))
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteStudy removes the study with its recruitments and tag links.
func (r repo) DeleteStudy(ctx context.Context, id int64) error {
	for _, q := range []string{
		`DELETE FROM study_tags WHERE study_id = ?`,
		`DELETE FROM recruitments WHERE study_id = ?`,
	} {
		if _, err := r.q.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete study: %w", err)
		}
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM studies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete study: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("study", id)
	}
	return nil
}

// SetStudyTags replaces the study's tags, creating missing tags on the fly.
// names must already be normalized.
func (r repo) SetStudyTags(ctx context.Context, studyID int64, names []string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM study_tags WHERE study_id = ?`, studyID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for i, name := range names {
		tag, err := r.EnsureTag(ctx, name)
		if err != nil {
			return err
		}
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO study_tags(study_id, tag_id, position) VALUES(?,?,?)`,
			studyID, tag.ID, i); err != nil {
			return fmt.Errorf("link tag: %w", err)
		}
	}
	return nil
}

// EnsureTag returns the tag called name, creating it if absent.
func (r repo) EnsureTag(ctx context.Context, name string) (domain.Tag, error) {
	if _, err := r.q.ExecContext(ctx,
		`INSERT INTO tags(name) VALUES(?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return domain.Tag{}, fmt.Errorf("ensure tag: %w", err)
	}
	var t domain.Tag
	if err := sqlx.GetContext(ctx, r.q, &t, `SELECT id, name FROM tags WHERE name = ?`, name); err != nil {
		return domain.Tag{}, fmt.Errorf("ensure tag: %w", err)
	}
	return t, nil
}

func (r repo) studyTags(ctx context.Context, studyID int64) ([]string, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, r.q, &names,
		`SELECT t.name FROM study_tags st JOIN tags t ON t.id = st.tag_id
		  WHERE st.study_id = ? ORDER BY st.position`, studyID); err != nil {
		return nil, fmt.Errorf("study tags: %w", err)
	}
	return names, nil
}
