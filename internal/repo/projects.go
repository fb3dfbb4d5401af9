package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/config"
	"taskroom/internal/domain"
)

const projectColumns = `org_id, id, name, parent_id, status, description, created_at`

func (r Repo) InsertProject(ctx context.Context, tx *sqlx.Tx, p domain.Project) error {
	if p.Status == "" {
		p.Status = "active"
	}
	_, err := exec(ctx, r.q(tx), `INSERT INTO projects(org_id, id, name, parent_id, status, description, created_at) VALUES (?,?,?,?,?,?,?)`,
		p.OrgID, p.ID, p.Name, nullableStringPtr(p.ParentID), p.Status, p.Description, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, tx *sqlx.Tx, orgID, id string) (domain.Project, error) {
	var p domain.Project
	err := get(ctx, r.q(tx), &p, `SELECT `+projectColumns+` FROM projects WHERE org_id=? AND id=?`, orgID, id)
	return p, err
}

// ListProjects returns the org's projects. A non-empty memberID restricts the
// list to projects that user is a member of.
func (r Repo) ListProjects(ctx context.Context, tx *sqlx.Tx, orgID, memberID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p WHERE p.org_id=?`
	args := []any{orgID}
	if memberID != "" {
		query += ` AND EXISTS (SELECT 1 FROM project_members pm WHERE pm.org_id=p.org_id AND pm.project_id=p.id AND pm.user_id=?)`
		args = append(args, memberID)
	}
	query += ` ORDER BY p.name, p.id`
	var res []domain.Project
	err := selectAll(ctx, r.q(tx), &res, query, args...)
	return res, err
}

func (r Repo) SetProjectStatus(ctx context.Context, tx *sqlx.Tx, orgID, id, status string) error {
	n, err := execAffected(ctx, r.q(tx), `UPDATE projects SET status=? WHERE org_id=? AND id=?`, status, orgID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddProjectMember is idempotent.
func (r Repo) AddProjectMember(ctx context.Context, tx *sqlx.Tx, orgID, projectID, userID, now string) error {
	_, err := exec(ctx, r.q(tx), `INSERT INTO project_members(org_id, project_id, user_id, created_at) VALUES (?,?,?,?)
ON CONFLICT DO NOTHING`, orgID, projectID, userID, now)
	return err
}

func (r Repo) RemoveProjectMember(ctx context.Context, tx *sqlx.Tx, orgID, projectID, userID string) error {
	_, err := exec(ctx, r.q(tx), `DELETE FROM project_members WHERE org_id=? AND project_id=? AND user_id=?`, orgID, projectID, userID)
	return err
}

func (r Repo) IsProjectMember(ctx context.Context, tx *sqlx.Tx, orgID, projectID, userID string) (bool, error) {
	var n int
	err := get(ctx, r.q(tx), &n, `SELECT 1 FROM project_members WHERE org_id=? AND project_id=? AND user_id=? LIMIT 1`, orgID, projectID, userID)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) UpsertProjectConfig(ctx context.Context, tx *sqlx.Tx, orgID, projectID string, cfg *config.Config, now string) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = exec(ctx, r.q(tx), `INSERT INTO project_configs(org_id, project_id, config_json, updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id, project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`,
		orgID, projectID, string(payload), now)
	return err
}

// GetProjectConfig returns ErrNotFound when the project has no stored settings.
func (r Repo) GetProjectConfig(ctx context.Context, tx *sqlx.Tx, orgID, projectID string) (*config.Config, error) {
	var payload string
	if err := get(ctx, r.q(tx), &payload, `SELECT config_json FROM project_configs WHERE org_id=? AND project_id=?`, orgID, projectID); err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}
