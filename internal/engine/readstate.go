package engine

import (
	"context"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
	"taskroom/internal/repo"
)

// MarkAsRead moves the actor's room cursor forward to now and clears their
// unread mentions in the room. The cursor never moves backwards.
func (e Engine) MarkAsRead(ctx context.Context, actor Actor, roomID string) error {
	if err := actor.check(); err != nil {
		return err
	}
	return e.markRead(ctx, actor, roomID, "")
}

// markRead advances the cursor to upTo and clears mentions on messages posted
// up to it. An empty upTo means now and clears every unread mention.
func (e Engine) markRead(ctx context.Context, actor Actor, roomID, upTo string) error {
	return e.withTx(ctx, "mark room read", func(ctx context.Context, tx *sqlx.Tx) error {
		room, err := e.authorizeRoom(ctx, tx, actor, roomID, "read this room")
		if err != nil {
			return err
		}
		now := e.nowString()
		cursor := upTo
		if cursor == "" {
			cursor = now
		}
		if err := e.Repo.AdvanceReadCursor(ctx, tx, domain.ReadCursor{
			OrgID: actor.OrgID, RoomID: room.ID, UserID: actor.UserID, LastReadAt: cursor,
		}); err != nil {
			return internal("advance read cursor", err)
		}
		if upTo == "" {
			_, err = e.Repo.MarkRoomMentionsRead(ctx, tx, actor.OrgID, room.ID, actor.UserID, now)
		} else {
			_, err = e.Repo.MarkRoomMentionsReadUpTo(ctx, tx, actor.OrgID, room.ID, actor.UserID, upTo, now)
		}
		return internal("mark mentions read", err)
	})
}

// ReadCursor returns the actor's cursor for the room, if any.
func (e Engine) ReadCursor(ctx context.Context, actor Actor, roomID string) (domain.ReadCursor, bool, error) {
	if err := actor.check(); err != nil {
		return domain.ReadCursor{}, false, err
	}
	room, err := e.authorizeRoom(ctx, nil, actor, roomID, "read this room")
	if err != nil {
		return domain.ReadCursor{}, false, err
	}
	c, err := e.Repo.GetReadCursor(ctx, nil, actor.OrgID, room.ID, actor.UserID)
	if err == repo.ErrNotFound {
		return domain.ReadCursor{}, false, nil
	}
	if err != nil {
		return domain.ReadCursor{}, false, internal("load read cursor", err)
	}
	return c, true, nil
}

// UnreadCount counts messages by others posted after the actor's cursor, or
// all of them when the actor never read the room.
func (e Engine) UnreadCount(ctx context.Context, actor Actor, roomID string) (int, error) {
	if err := actor.check(); err != nil {
		return 0, err
	}
	room, err := e.authorizeRoom(ctx, nil, actor, roomID, "read this room")
	if err != nil {
		return 0, err
	}
	var since string
	c, err := e.Repo.GetReadCursor(ctx, nil, actor.OrgID, room.ID, actor.UserID)
	switch {
	case err == nil:
		since = c.LastReadAt
	case err != repo.ErrNotFound:
		return 0, internal("load read cursor", err)
	}
	n, err := e.Repo.CountUnread(ctx, nil, actor.OrgID, room.ID, actor.UserID, since)
	if err != nil {
		return 0, internal("count unread", err)
	}
	return n, nil
}

// MentionsByProject aggregates the actor's unread mentions for badge
// rendering. Projects without unread mentions are omitted.
func (e Engine) MentionsByProject(ctx context.Context, actor Actor) ([]domain.ProjectMentions, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	res, err := e.Repo.UnreadMentionsByProject(ctx, nil, actor.OrgID, actor.UserID, !actor.SuperAdmin)
	if err != nil {
		return nil, internal("aggregate mentions", err)
	}
	return res, nil
}

// MarkMentionsAsRead clears the actor's mention on a single message and
// returns how many mentions changed.
func (e Engine) MarkMentionsAsRead(ctx context.Context, actor Actor, messageID string) (int, error) {
	if err := actor.check(); err != nil {
		return 0, err
	}
	var n int64
	err := e.withTx(ctx, "mark message mentions read", func(ctx context.Context, tx *sqlx.Tx) error {
		msg, err := e.Repo.GetMessage(ctx, tx, actor.OrgID, messageID)
		if err != nil {
			return storeErr("load message", "message", messageID, err)
		}
		if _, err := e.authorizeRoom(ctx, tx, actor, msg.RoomID, "read this room"); err != nil {
			return err
		}
		n, err = e.Repo.MarkMessageMentionsRead(ctx, tx, actor.OrgID, msg.ID, actor.UserID, e.nowString())
		return internal("mark mentions read", err)
	})
	return int(n), err
}

// MarkAllRoomMentionsAsRead clears every unread mention of the actor in the
// room and returns how many changed.
func (e Engine) MarkAllRoomMentionsAsRead(ctx context.Context, actor Actor, roomID string) (int, error) {
	if err := actor.check(); err != nil {
		return 0, err
	}
	var n int64
	err := e.withTx(ctx, "mark room mentions read", func(ctx context.Context, tx *sqlx.Tx) error {
		room, err := e.authorizeRoom(ctx, tx, actor, roomID, "read this room")
		if err != nil {
			return err
		}
		n, err = e.Repo.MarkRoomMentionsRead(ctx, tx, actor.OrgID, room.ID, actor.UserID, e.nowString())
		return internal("mark mentions read", err)
	})
	return int(n), err
}
