package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskroom/internal/domain"
	"taskroom/internal/engine"
)

func registerChat(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-room",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/room",
		Summary:     "Get or create the project chat room",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.ChatRoom `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		room, err := e.GetOrCreateRoom(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.ChatRoom `json:"body"`
		}{Body: room}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/rooms/{room_id}/messages",
		Summary:       "Post a message",
		Description:   "@username tokens that name org members create mentions. Self mentions are ignored.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		RoomID string             `path:"room_id"`
		Body   SendMessageRequest `json:"body"`
	}) (*struct {
		Body domain.ChatMessage `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msg, err := e.SendMessage(ctx, actor, input.RoomID, input.Body.Content)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.ChatMessage `json:"body"`
		}{Body: msg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/messages",
		Summary:     "List messages",
		Description: "Returns a page oldest first. Fetching the latest page marks the room read unless the project disabled chat.mark_read_on_view. Use next_cursor as cursor to page back.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body MessagesPage `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		views, err := e.ViewRoom(ctx, actor, input.RoomID, engine.ListMessagesOptions{
			Limit: limit, BeforeCreatedAt: ts, BeforeID: id,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		page := MessagesPage{Items: nonNil(views)}
		if len(views) == limit {
			page.NextCursor = composeCursor(views[0].CreatedAt, views[0].ID)
		}
		return &struct {
			Body MessagesPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-room-read",
		Method:      http.MethodPost,
		Path:        "/rooms/{room_id}/read",
		Summary:     "Mark the room read",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
	}) (*struct {
		Body UnreadResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkAsRead(ctx, actor, input.RoomID); err != nil {
			return nil, handleError(ctx, err)
		}
		resp, err := unreadResponse(ctx, e, actor, input.RoomID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body UnreadResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "room-unread",
		Method:      http.MethodGet,
		Path:        "/rooms/{room_id}/unread",
		Summary:     "Unread message count",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
	}) (*struct {
		Body UnreadResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := unreadResponse(ctx, e, actor, input.RoomID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body UnreadResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func unreadResponse(ctx context.Context, e engine.Engine, actor engine.Actor, roomID string) (UnreadResponse, error) {
	n, err := e.UnreadCount(ctx, actor, roomID)
	if err != nil {
		return UnreadResponse{}, err
	}
	resp := UnreadResponse{RoomID: roomID, Unread: n}
	c, ok, err := e.ReadCursor(ctx, actor, roomID)
	if err != nil {
		return UnreadResponse{}, err
	}
	if ok {
		resp.LastReadAt = &c.LastReadAt
	}
	return resp, nil
}

func registerMentions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "my-mentions",
		Method:      http.MethodGet,
		Path:        "/me/mentions",
		Summary:     "Unread mentions per project",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MentionsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.MentionsByProject(ctx, actor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := MentionsResponse{Items: nonNil(items)}
		for _, it := range items {
			resp.Total += it.MentionCount
		}
		return &struct {
			Body MentionsResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-room-mentions-read",
		Method:      http.MethodPost,
		Path:        "/rooms/{room_id}/mentions/read",
		Summary:     "Mark every mention in the room read",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RoomID string `path:"room_id"`
	}) (*struct {
		Body MarkedResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkAllRoomMentionsAsRead(ctx, actor, input.RoomID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body MarkedResponse `json:"body"`
		}{Body: MarkedResponse{Updated: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "message-mentions",
		Method:      http.MethodGet,
		Path:        "/messages/{message_id}/mentions",
		Summary:     "Mentions of a message",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MessageID string `path:"message_id"`
	}) (*struct {
		Body MessageMentionsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ms, err := e.MessageMentions(ctx, actor, input.MessageID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body MessageMentionsResponse `json:"body"`
		}{Body: MessageMentionsResponse{Items: ms}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-message-mentions-read",
		Method:      http.MethodPost,
		Path:        "/messages/{message_id}/mentions/read",
		Summary:     "Mark the caller's mention in a message read",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MessageID string `path:"message_id"`
	}) (*struct {
		Body MarkedResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkMentionsAsRead(ctx, actor, input.MessageID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body MarkedResponse `json:"body"`
		}{Body: MarkedResponse{Updated: n}}, nil
	})
}
