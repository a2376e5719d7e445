package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AppendAudit stores e, assigning an ID and timestamp when missing.
func (r repo) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO audit(id, at_ms, actor_id, action, target, ok, err, meta) VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, ms(e.At), e.ActorID, e.Action, e.Target, e.OK, nullStr(e.Error), nullStr(e.Meta),
	)
	return err
}

type auditRow struct {
	ID      string  `db:"id"`
	AtMS    int64   `db:"at_ms"`
	ActorID int64   `db:"actor_id"`
	Action  string  `db:"action"`
	Target  string  `db:"target"`
	OK      bool    `db:"ok"`
	Err     *string `db:"err"`
	Meta    *string `db:"meta"`
}

// RecentAudit returns up to limit entries, newest first.
func (r repo) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []auditRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT id, at_ms, actor_id, action, target, ok, err, meta FROM audit
		  ORDER BY at_ms DESC, rowid DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	out := make([]AuditEntry, len(rows))
	for i, row := range rows {
		out[i] = AuditEntry{
			ID:      row.ID,
			At:      fromMS(row.AtMS),
			ActorID: row.ActorID,
			Action:  row.Action,
			Target:  row.Target,
			OK:      row.OK,
			Error:   deref(row.Err),
			Meta:    deref(row.Meta),
		}
	}
	return out, nil
}

// PutDedup records that key is suppressed until the given instant. Expired
// keys are pruned every few hundred writes.
func (s *Store) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *Store) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var until int64
	err := s.db.GetContext(ctx, &until, `SELECT until FROM dedup WHERE key = ?`, key)
	if noRows(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return fromMS(until), true, nil
}

func (s *Store) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
