package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

const taskColumns = `t.id, t.org_id, t.project_id, t.title, t.description, t.status, t.priority, t.created_by, t.due_at, t.created_at, t.updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sqlx.Tx, t domain.Task) error {
	_, err := exec(ctx, r.q(tx), `INSERT INTO tasks(id, org_id, project_id, title, description, status, priority, created_by, due_at, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.CreatedBy, nullableStringPtr(t.DueAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, tx *sqlx.Tx, orgID, id string) (domain.Task, error) {
	var t domain.Task
	err := get(ctx, r.q(tx), &t, `SELECT `+taskColumns+` FROM tasks t WHERE t.org_id=? AND t.id=?`, orgID, id)
	return t, err
}

// ListProjectTasks returns a project's tasks oldest first. A non-empty
// assignedTo keeps only tasks assigned to that user.
func (r Repo) ListProjectTasks(ctx context.Context, tx *sqlx.Tx, orgID, projectID, assignedTo string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.org_id=? AND t.project_id=?`
	args := []any{orgID, projectID}
	if assignedTo != "" {
		query += ` AND EXISTS (SELECT 1 FROM task_assignments a WHERE a.task_id=t.id AND a.org_id=t.org_id AND a.user_id=?)`
		args = append(args, assignedTo)
	}
	query += ` ORDER BY t.created_at, t.id`
	var res []domain.Task
	err := selectAll(ctx, r.q(tx), &res, query, args...)
	return res, err
}

// CompareAndSetTaskStatus moves the task from one status to another. It
// reports false when the stored status is no longer from.
func (r Repo) CompareAndSetTaskStatus(ctx context.Context, tx *sqlx.Tx, orgID, id string, from, to domain.TaskStatus, now string) (bool, error) {
	n, err := execAffected(ctx, r.q(tx), `UPDATE tasks SET status=?, updated_at=? WHERE org_id=? AND id=? AND status=?`,
		to, now, orgID, id, from)
	return n == 1, err
}

func (r Repo) InsertStatusLog(ctx context.Context, tx *sqlx.Tx, e domain.TaskStatusLogEntry) error {
	_, err := exec(ctx, r.q(tx), `INSERT INTO task_status_log(id, org_id, task_id, from_status, to_status, changed_by, changed_at) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.OrgID, e.TaskID, e.FromStatus, e.ToStatus, e.ChangedBy, e.ChangedAt)
	return err
}

func (r Repo) ListStatusLog(ctx context.Context, tx *sqlx.Tx, orgID, taskID string) ([]domain.TaskStatusLogEntry, error) {
	var res []domain.TaskStatusLogEntry
	err := selectAll(ctx, r.q(tx), &res, `SELECT id, org_id, task_id, from_status, to_status, changed_by, changed_at
FROM task_status_log WHERE org_id=? AND task_id=? ORDER BY changed_at, id`, orgID, taskID)
	return res, err
}

// AddAssignments inserts the missing (task, user) pairs and returns how many
// were new.
func (r Repo) AddAssignments(ctx context.Context, tx *sqlx.Tx, orgID, taskID string, userIDs []string, now string) (int, error) {
	added := 0
	for _, userID := range userIDs {
		n, err := execAffected(ctx, r.q(tx), `INSERT INTO task_assignments(org_id, task_id, user_id, assigned_at) VALUES (?,?,?,?)
ON CONFLICT DO NOTHING`, orgID, taskID, userID, now)
		if err != nil {
			return added, err
		}
		added += int(n)
	}
	return added, nil
}

func (r Repo) ListAssignees(ctx context.Context, tx *sqlx.Tx, orgID, taskID string) ([]string, error) {
	var ids []string
	err := selectAll(ctx, r.q(tx), &ids, `SELECT user_id FROM task_assignments WHERE org_id=? AND task_id=? ORDER BY assigned_at, user_id`, orgID, taskID)
	return ids, err
}

// CountTasksByStatus returns counts per status for a project.
func (r Repo) CountTasksByStatus(ctx context.Context, tx *sqlx.Tx, orgID, projectID string) (map[domain.TaskStatus]int, error) {
	var rows []struct {
		Status domain.TaskStatus `db:"status"`
		N      int               `db:"n"`
	}
	err := selectAll(ctx, r.q(tx), &rows, `SELECT status, COUNT(*) AS n FROM tasks WHERE org_id=? AND project_id=? GROUP BY status`, orgID, projectID)
	if err != nil {
		return nil, err
	}
	out := map[domain.TaskStatus]int{}
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
