package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

const closureColumns = `id, org_id, task_id, requested_by, requested_at, status, acknowledged_by, acknowledged_at`

// InsertClosureRequest stores a PENDING request. It reports false when the
// requester already has a pending request for the task.
func (r Repo) InsertClosureRequest(ctx context.Context, tx *sqlx.Tx, req domain.ClosureRequest) (bool, error) {
	n, err := execAffected(ctx, r.q(tx), `INSERT INTO task_closure_requests(id, org_id, task_id, requested_by, requested_at, status)
VALUES (?,?,?,?,?,?) ON CONFLICT DO NOTHING`,
		req.ID, req.OrgID, req.TaskID, req.RequestedBy, req.RequestedAt, domain.ClosurePending)
	return n == 1, err
}

func (r Repo) GetPendingClosureRequest(ctx context.Context, tx *sqlx.Tx, orgID, taskID, requestedBy string) (domain.ClosureRequest, error) {
	var req domain.ClosureRequest
	err := get(ctx, r.q(tx), &req, `SELECT `+closureColumns+` FROM task_closure_requests
WHERE org_id=? AND task_id=? AND requested_by=? AND status=?`, orgID, taskID, requestedBy, domain.ClosurePending)
	return req, err
}

func (r Repo) GetClosureRequest(ctx context.Context, tx *sqlx.Tx, orgID, id string) (domain.ClosureRequest, error) {
	var req domain.ClosureRequest
	err := get(ctx, r.q(tx), &req, `SELECT `+closureColumns+` FROM task_closure_requests WHERE org_id=? AND id=?`, orgID, id)
	return req, err
}

func (r Repo) ListClosureRequests(ctx context.Context, tx *sqlx.Tx, orgID, taskID string) ([]domain.ClosureRequest, error) {
	var res []domain.ClosureRequest
	err := selectAll(ctx, r.q(tx), &res, `SELECT `+closureColumns+` FROM task_closure_requests
WHERE org_id=? AND task_id=? ORDER BY requested_at, id`, orgID, taskID)
	return res, err
}

// AcknowledgeClosureRequest flips a PENDING request. It reports false when the
// request was not pending.
func (r Repo) AcknowledgeClosureRequest(ctx context.Context, tx *sqlx.Tx, orgID, id, by, now string) (bool, error) {
	n, err := execAffected(ctx, r.q(tx), `UPDATE task_closure_requests SET status=?, acknowledged_by=?, acknowledged_at=?
WHERE org_id=? AND id=? AND status=?`, domain.ClosureAcknowledged, by, now, orgID, id, domain.ClosurePending)
	return n == 1, err
}
