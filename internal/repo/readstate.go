package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

// AdvanceReadCursor upserts the cursor and keeps the later of the stored and
// supplied timestamps, so concurrent calls converge to the maximum.
func (r Repo) AdvanceReadCursor(ctx context.Context, tx *sqlx.Tx, c domain.ReadCursor) error {
	_, err := exec(ctx, r.q(tx), `INSERT INTO read_cursors(org_id, room_id, user_id, last_read_at) VALUES (?,?,?,?)
ON CONFLICT(room_id, user_id) DO UPDATE SET last_read_at =
  CASE WHEN excluded.last_read_at > read_cursors.last_read_at THEN excluded.last_read_at ELSE read_cursors.last_read_at END`,
		c.OrgID, c.RoomID, c.UserID, c.LastReadAt)
	return err
}

func (r Repo) GetReadCursor(ctx context.Context, tx *sqlx.Tx, orgID, roomID, userID string) (domain.ReadCursor, error) {
	var c domain.ReadCursor
	err := get(ctx, r.q(tx), &c, `SELECT org_id, room_id, user_id, last_read_at FROM read_cursors WHERE org_id=? AND room_id=? AND user_id=?`,
		orgID, roomID, userID)
	return c, err
}

// CountUnread counts messages by other authors newer than since. An empty
// since counts every such message.
func (r Repo) CountUnread(ctx context.Context, tx *sqlx.Tx, orgID, roomID, userID, since string) (int, error) {
	query := `SELECT COUNT(*) FROM chat_messages WHERE org_id=? AND room_id=? AND author_id<>?`
	args := []any{orgID, roomID, userID}
	if since != "" {
		query += ` AND created_at > ?`
		args = append(args, since)
	}
	var n int
	err := get(ctx, r.q(tx), &n, query, args...)
	return n, err
}

func (r Repo) MarkRoomMentionsRead(ctx context.Context, tx *sqlx.Tx, orgID, roomID, userID, now string) (int64, error) {
	return execAffected(ctx, r.q(tx), `UPDATE mentions SET read_at=? WHERE org_id=? AND room_id=? AND mentioned_user_id=? AND read_at IS NULL`,
		now, orgID, roomID, userID)
}

// MarkRoomMentionsReadUpTo is MarkRoomMentionsRead limited to messages posted
// at or before upTo.
func (r Repo) MarkRoomMentionsReadUpTo(ctx context.Context, tx *sqlx.Tx, orgID, roomID, userID, upTo, now string) (int64, error) {
	return execAffected(ctx, r.q(tx), `UPDATE mentions SET read_at=? WHERE org_id=? AND room_id=? AND mentioned_user_id=? AND read_at IS NULL
AND message_id IN (SELECT id FROM chat_messages WHERE org_id=? AND room_id=? AND created_at <= ?)`,
		now, orgID, roomID, userID, orgID, roomID, upTo)
}

func (r Repo) MarkMessageMentionsRead(ctx context.Context, tx *sqlx.Tx, orgID, messageID, userID, now string) (int64, error) {
	return execAffected(ctx, r.q(tx), `UPDATE mentions SET read_at=? WHERE org_id=? AND message_id=? AND mentioned_user_id=? AND read_at IS NULL`,
		now, orgID, messageID, userID)
}

// UnreadMentionsByProject aggregates a user's unread mentions per project.
// With membersOnly set, projects the user is not a member of are skipped.
func (r Repo) UnreadMentionsByProject(ctx context.Context, tx *sqlx.Tx, orgID, userID string, membersOnly bool) ([]domain.ProjectMentions, error) {
	query := `SELECT p.id AS project_id, p.name AS project_name, COUNT(*) AS mention_count
FROM mentions mn
JOIN chat_rooms cr ON cr.id=mn.room_id AND cr.org_id=mn.org_id
JOIN projects p ON p.org_id=cr.org_id AND p.id=cr.project_id
WHERE mn.org_id=? AND mn.mentioned_user_id=? AND mn.read_at IS NULL`
	args := []any{orgID, userID}
	if membersOnly {
		query += ` AND EXISTS (SELECT 1 FROM project_members pm WHERE pm.org_id=p.org_id AND pm.project_id=p.id AND pm.user_id=?)`
		args = append(args, userID)
	}
	query += ` GROUP BY p.id, p.name ORDER BY p.name, p.id`
	res := []domain.ProjectMentions{}
	err := selectAll(ctx, r.q(tx), &res, query, args...)
	return res, err
}
