package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

func (r Repo) InsertOrg(ctx context.Context, tx *sqlx.Tx, o domain.Org) error {
	if o.Name == "" {
		o.Name = o.ID
	}
	_, err := exec(ctx, r.q(tx), `INSERT INTO orgs(id, name, created_at) VALUES (?,?,?)`, o.ID, o.Name, o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, tx *sqlx.Tx, id string) (domain.Org, error) {
	var o domain.Org
	err := get(ctx, r.q(tx), &o, `SELECT id, name, created_at FROM orgs WHERE id=?`, id)
	return o, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sqlx.Tx, u domain.User) error {
	_, err := exec(ctx, r.q(tx), `INSERT INTO users(id, username, display_name, created_at) VALUES (?,?,?,?)`,
		u.ID, u.Username, u.DisplayName, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, tx *sqlx.Tx, id string) (domain.User, error) {
	var u domain.User
	err := get(ctx, r.q(tx), &u, `SELECT id, username, display_name, created_at FROM users WHERE id=?`, id)
	return u, err
}

func (r Repo) GetUserByUsername(ctx context.Context, tx *sqlx.Tx, username string) (domain.User, error) {
	var u domain.User
	err := get(ctx, r.q(tx), &u, `SELECT id, username, display_name, created_at FROM users WHERE username=?`, username)
	return u, err
}

// UpsertOrgMember adds a user to an org or updates their role.
func (r Repo) UpsertOrgMember(ctx context.Context, tx *sqlx.Tx, m domain.OrgMember) error {
	if m.Role == "" {
		m.Role = domain.RoleMember
	}
	_, err := exec(ctx, r.q(tx), `INSERT INTO org_members(org_id, user_id, role, created_at) VALUES (?,?,?,?)
ON CONFLICT(org_id, user_id) DO UPDATE SET role=excluded.role`, m.OrgID, m.UserID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) GetOrgMember(ctx context.Context, tx *sqlx.Tx, orgID, userID string) (domain.OrgMember, error) {
	var m domain.OrgMember
	err := get(ctx, r.q(tx), &m, `SELECT org_id, user_id, role, created_at FROM org_members WHERE org_id=? AND user_id=?`, orgID, userID)
	return m, err
}

type OrgMemberRow struct {
	domain.OrgMember
	Username string `db:"username" json:"username"`
}

func (r Repo) ListOrgMembers(ctx context.Context, tx *sqlx.Tx, orgID string) ([]OrgMemberRow, error) {
	var rows []OrgMemberRow
	err := selectAll(ctx, r.q(tx), &rows, `SELECT m.org_id, m.user_id, m.role, m.created_at, u.username
FROM org_members m JOIN users u ON u.id=m.user_id
WHERE m.org_id=? ORDER BY u.username`, orgID)
	return rows, err
}

// ResolveUsernames maps usernames of org members to user ids. Matching is
// exact and case-sensitive; names that match nobody are absent from the result.
func (r Repo) ResolveUsernames(ctx context.Context, tx *sqlx.Tx, orgID string, usernames []string) (map[string]string, error) {
	out := map[string]string{}
	if len(usernames) == 0 {
		return out, nil
	}
	var rows []struct {
		ID       string `db:"id"`
		Username string `db:"username"`
	}
	err := in(ctx, r.q(tx), &rows, `SELECT u.id, u.username FROM users u
JOIN org_members m ON m.user_id=u.id
WHERE m.org_id=? AND u.username IN (?)`, orgID, usernames)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		// IN may be case-insensitive under some collations.
		out[row.Username] = row.ID
	}
	return out, nil
}

// OrgMemberIDs returns the subset of userIDs that belong to the org.
func (r Repo) OrgMemberIDs(ctx context.Context, tx *sqlx.Tx, orgID string, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := in(ctx, r.q(tx), &ids, `SELECT user_id FROM org_members WHERE org_id=? AND user_id IN (?)`, orgID, userIDs)
	return ids, err
}
