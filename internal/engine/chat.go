package engine

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
	"taskroom/internal/events"
	"taskroom/internal/mention"
	"taskroom/internal/repo"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// GetOrCreateRoom returns the project's chat room, creating it on first use.
// Concurrent first calls all return the same room.
func (e Engine) GetOrCreateRoom(ctx context.Context, actor Actor, projectID string) (domain.ChatRoom, error) {
	if err := actor.check(); err != nil {
		return domain.ChatRoom{}, err
	}
	if _, err := e.authorizeProject(ctx, nil, actor, projectID, "open the project chat"); err != nil {
		return domain.ChatRoom{}, err
	}
	room, err := e.Repo.GetRoomByProject(ctx, nil, actor.OrgID, projectID)
	if err == nil {
		return room, nil
	}
	if err != repo.ErrNotFound {
		return domain.ChatRoom{}, internal("load room", err)
	}
	err = e.withTx(ctx, "create room", func(ctx context.Context, tx *sqlx.Tx) error {
		candidate := domain.ChatRoom{ID: newID(), OrgID: actor.OrgID, ProjectID: projectID, CreatedAt: e.nowString()}
		created, err := e.Repo.InsertRoomIfAbsent(ctx, tx, candidate)
		if err != nil {
			return internal("insert room", err)
		}
		// The loser of a creation race reads the winner's row.
		room, err = e.Repo.GetRoomByProject(ctx, tx, actor.OrgID, projectID)
		if err != nil {
			return internal("load room", err)
		}
		if !created {
			return nil
		}
		return e.appendEvent(ctx, tx, events.Entry{
			OrgID: actor.OrgID, Type: events.RoomCreated, ProjectID: projectID,
			EntityKind: "room", EntityID: room.ID, ActorID: actor.UserID,
		})
	})
	if err != nil {
		return domain.ChatRoom{}, err
	}
	return room, nil
}

type sendMessageInput struct {
	Content string `json:"content" validate:"required,max=10000"`
}

// SendMessage stores the message and its mentions in one transaction and
// clears the author's own unread mentions in the room.
func (e Engine) SendMessage(ctx context.Context, actor Actor, roomID, content string) (domain.ChatMessage, error) {
	if err := actor.check(); err != nil {
		return domain.ChatMessage{}, err
	}
	in := sendMessageInput{Content: strings.TrimSpace(content)}
	if err := e.validate(in); err != nil {
		return domain.ChatMessage{}, err
	}
	var msg domain.ChatMessage
	var mentioned []string
	err := e.withTx(ctx, "send message", func(ctx context.Context, tx *sqlx.Tx) error {
		room, err := e.authorizeRoom(ctx, tx, actor, roomID, "post in this room")
		if err != nil {
			return err
		}
		id, err := newOrderedID()
		if err != nil {
			return err
		}
		now := e.nowString()
		msg = domain.ChatMessage{ID: id, OrgID: actor.OrgID, RoomID: room.ID, AuthorID: actor.UserID, Content: in.Content, CreatedAt: now}
		if err := e.Repo.InsertMessage(ctx, tx, msg); err != nil {
			return internal("insert message", err)
		}

		handles := mention.Parse(in.Content)
		resolved, err := e.Repo.ResolveUsernames(ctx, tx, actor.OrgID, handles)
		if err != nil {
			return internal("resolve mentions", err)
		}
		for _, handle := range handles {
			userID, ok := resolved[handle]
			if !ok || userID == actor.UserID {
				continue
			}
			created, err := e.Repo.InsertMention(ctx, tx, domain.Mention{
				OrgID: actor.OrgID, MessageID: msg.ID, RoomID: room.ID, MentionedUserID: userID, CreatedAt: now,
			})
			if err != nil {
				return internal("insert mention", err)
			}
			if created {
				mentioned = append(mentioned, userID)
			}
		}

		if _, err := e.Repo.MarkRoomMentionsRead(ctx, tx, actor.OrgID, room.ID, actor.UserID, now); err != nil {
			return internal("clear author mentions", err)
		}
		return e.appendEvent(ctx, tx, events.Entry{
			OrgID: actor.OrgID, Type: events.MessageSent, ProjectID: room.ProjectID,
			EntityKind: "message", EntityID: msg.ID, ActorID: actor.UserID,
			Payload: events.EventPayload{"room_id": room.ID, "mentions": len(mentioned)},
		})
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	e.log(actor).WithField("room_id", msg.RoomID).WithField("mentions", len(mentioned)).Debug("message sent")
	return msg, nil
}

type ListMessagesOptions struct {
	Limit           int
	BeforeCreatedAt string
	BeforeID        string
}

// Messages returns up to Limit messages older than the optional cursor,
// oldest first, flagged from the actor's point of view.
func (e Engine) Messages(ctx context.Context, actor Actor, roomID string, opts ListMessagesOptions) ([]domain.MessageView, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	room, err := e.authorizeRoom(ctx, nil, actor, roomID, "read this room")
	if err != nil {
		return nil, err
	}
	return e.messages(ctx, actor, room, opts)
}

func (e Engine) messages(ctx context.Context, actor Actor, room domain.ChatRoom, opts ListMessagesOptions) ([]domain.MessageView, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	views, err := e.Repo.ListMessageViews(ctx, nil, actor.OrgID, room.ID, actor.UserID, repo.MessageFilters{
		Limit: limit, BeforeCreatedAt: opts.BeforeCreatedAt, BeforeID: opts.BeforeID,
	})
	if err != nil {
		return nil, internal("list messages", err)
	}
	cursor, err := e.Repo.GetReadCursor(ctx, nil, actor.OrgID, room.ID, actor.UserID)
	if err != nil && err != repo.ErrNotFound {
		return nil, internal("load read cursor", err)
	}
	out := make([]domain.MessageView, 0, len(views))
	for i := len(views) - 1; i >= 0; i-- {
		v := views[i]
		v.Read = v.AuthorID == actor.UserID || (cursor.LastReadAt != "" && v.CreatedAt <= cursor.LastReadAt)
		out = append(out, v)
	}
	return out, nil
}

// ViewRoom lists messages the way a room page does: the flags reflect the
// state before the visit, and opening the latest page marks the room read
// unless the project turned that off. Only messages up to the newest one
// returned are marked, so a message posted meanwhile stays unread.
func (e Engine) ViewRoom(ctx context.Context, actor Actor, roomID string, opts ListMessagesOptions) ([]domain.MessageView, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	room, err := e.authorizeRoom(ctx, nil, actor, roomID, "read this room")
	if err != nil {
		return nil, err
	}
	views, err := e.messages(ctx, actor, room, opts)
	if err != nil {
		return nil, err
	}
	if opts.BeforeID != "" || len(views) == 0 {
		return views, nil
	}
	cfg, err := e.projectConfig(ctx, nil, actor.OrgID, room.ProjectID)
	if err != nil {
		return nil, err
	}
	if cfg.Chat.MarkReadOnViewEnabled() {
		if err := e.markRead(ctx, actor, room.ID, views[len(views)-1].CreatedAt); err != nil {
			return nil, err
		}
	}
	return views, nil
}

// MessageMentions lists who a message mentions and whether they have read it.
func (e Engine) MessageMentions(ctx context.Context, actor Actor, messageID string) ([]domain.Mention, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	msg, err := e.Repo.GetMessage(ctx, nil, actor.OrgID, messageID)
	if err != nil {
		return nil, storeErr("load message", "message", messageID, err)
	}
	if _, err := e.authorizeRoom(ctx, nil, actor, msg.RoomID, "read this room"); err != nil {
		return nil, err
	}
	ms, err := e.Repo.ListMessageMentions(ctx, nil, actor.OrgID, msg.ID)
	if err != nil {
		return nil, internal("list mentions", err)
	}
	if ms == nil {
		ms = []domain.Mention{}
	}
	return ms, nil
}
