package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

func (r Repo) GetRoom(ctx context.Context, tx *sqlx.Tx, orgID, id string) (domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := get(ctx, r.q(tx), &room, `SELECT id, org_id, project_id, created_at FROM chat_rooms WHERE org_id=? AND id=?`, orgID, id)
	return room, err
}

func (r Repo) GetRoomByProject(ctx context.Context, tx *sqlx.Tx, orgID, projectID string) (domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := get(ctx, r.q(tx), &room, `SELECT id, org_id, project_id, created_at FROM chat_rooms WHERE org_id=? AND project_id=?`, orgID, projectID)
	return room, err
}

// InsertRoomIfAbsent reports false when another room already holds
// (org_id, project_id).
func (r Repo) InsertRoomIfAbsent(ctx context.Context, tx *sqlx.Tx, room domain.ChatRoom) (bool, error) {
	n, err := execAffected(ctx, r.q(tx), `INSERT INTO chat_rooms(id, org_id, project_id, created_at) VALUES (?,?,?,?)
ON CONFLICT(org_id, project_id) DO NOTHING`, room.ID, room.OrgID, room.ProjectID, room.CreatedAt)
	return n == 1, err
}

func (r Repo) InsertMessage(ctx context.Context, tx *sqlx.Tx, m domain.ChatMessage) error {
	_, err := exec(ctx, r.q(tx), `INSERT INTO chat_messages(id, org_id, room_id, author_id, content, created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.OrgID, m.RoomID, m.AuthorID, m.Content, m.CreatedAt)
	return err
}

func (r Repo) GetMessage(ctx context.Context, tx *sqlx.Tx, orgID, id string) (domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := get(ctx, r.q(tx), &m, `SELECT id, org_id, room_id, author_id, content, created_at FROM chat_messages WHERE org_id=? AND id=?`, orgID, id)
	return m, err
}

type MessageFilters struct {
	Limit           int
	BeforeCreatedAt string
	BeforeID        string
}

// ListMessageViews returns the newest messages of a room (newest first) with
// the viewer's mention flags.
func (r Repo) ListMessageViews(ctx context.Context, tx *sqlx.Tx, orgID, roomID, viewerID string, f MessageFilters) ([]domain.MessageView, error) {
	query := `SELECT m.id, m.org_id, m.room_id, m.author_id, m.content, m.created_at,
  CASE WHEN mn.message_id IS NULL THEN 0 ELSE 1 END AS mentions_me,
  CASE WHEN mn.read_at IS NULL THEN 0 ELSE 1 END AS mention_read
FROM chat_messages m
LEFT JOIN mentions mn ON mn.message_id=m.id AND mn.org_id=m.org_id AND mn.mentioned_user_id=?
WHERE m.org_id=? AND m.room_id=?`
	args := []any{viewerID, orgID, roomID}
	if f.BeforeCreatedAt != "" && f.BeforeID != "" {
		query += ` AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))`
		args = append(args, f.BeforeCreatedAt, f.BeforeCreatedAt, f.BeforeID)
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var res []domain.MessageView
	err := selectAll(ctx, r.q(tx), &res, query, args...)
	return res, err
}

// InsertMention reports false when the mention already exists.
func (r Repo) InsertMention(ctx context.Context, tx *sqlx.Tx, m domain.Mention) (bool, error) {
	n, err := execAffected(ctx, r.q(tx), `INSERT INTO mentions(org_id, message_id, room_id, mentioned_user_id, created_at) VALUES (?,?,?,?,?)
ON CONFLICT DO NOTHING`, m.OrgID, m.MessageID, m.RoomID, m.MentionedUserID, m.CreatedAt)
	return n == 1, err
}

func (r Repo) ListMessageMentions(ctx context.Context, tx *sqlx.Tx, orgID, messageID string) ([]domain.Mention, error) {
	var res []domain.Mention
	err := selectAll(ctx, r.q(tx), &res, `SELECT org_id, message_id, room_id, mentioned_user_id, created_at, read_at
FROM mentions WHERE org_id=? AND message_id=? ORDER BY mentioned_user_id`, orgID, messageID)
	return res, err
}

func (r Repo) CountRooms(ctx context.Context, tx *sqlx.Tx, orgID, projectID string) (int, error) {
	var n int
	err := get(ctx, r.q(tx), &n, `SELECT COUNT(*) FROM chat_rooms WHERE org_id=? AND project_id=?`, orgID, projectID)
	return n, err
}
