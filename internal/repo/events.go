package repo

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

const eventColumns = `id, org_id, ts, type, project_id, entity_kind, entity_id, actor_id, payload_json`

type EventFilters struct {
	OrgID      string
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	// Composite cursor (ts, id); only older events are returned.
	CursorTS string
	CursorID string
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, tx *sqlx.Tx, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.CursorTS != "" && f.CursorID != "" {
		clauses = append(clauses, "(ts < ? OR (ts = ? AND id < ?))")
		args = append(args, f.CursorTS, f.CursorTS, f.CursorID)
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var res []domain.Event
	err := selectAll(ctx, r.q(tx), &res, query, args...)
	return res, err
}

// EventsAfter returns events after the (ts, id) cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, tx *sqlx.Tx, orgID, projectID, afterTS, afterID string, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE org_id=?`
	args := []any{orgID}
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	if afterTS != "" {
		query += ` AND (ts > ? OR (ts = ? AND id > ?))`
		args = append(args, afterTS, afterTS, afterID)
	}
	query += ` ORDER BY ts, id LIMIT ?`
	args = append(args, limit)
	var res []domain.Event
	err := selectAll(ctx, r.q(tx), &res, query, args...)
	return res, err
}
