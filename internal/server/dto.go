package server

import (
	"time"

	"taskroom/internal/domain"
	"taskroom/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	Title       string     `json:"title" minLength:"1" maxLength:"500"`
	Description string     `json:"description,omitempty" maxLength:"20000"`
	Priority    string     `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT"`
	Status      string     `json:"status,omitempty" enum:"OPEN,IN_PROGRESS,BLOCKED,DONE,CANCELED"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

type AssignUsersRequest struct {
	UserIDs []string `json:"user_ids" minItems:"1"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" enum:"OPEN,IN_PROGRESS,BLOCKED,DONE,CANCELED"`
}

type CloseTaskRequest struct {
	Status string `json:"status,omitempty" enum:"DONE,CANCELED"`
}

type SendMessageRequest struct {
	Content string `json:"content" minLength:"1" maxLength:"10000"`
}

// Response payloads

type WhoAmIResponse struct {
	UserID     string `json:"user_id"`
	OrgID      string `json:"org_id"`
	SuperAdmin bool   `json:"super_admin"`
	Source     string `json:"source"`
}

type ProjectsResponse struct {
	Items []domain.Project `json:"items"`
}

type TaskResponse struct {
	domain.Task
	Assignees []string `json:"assignees"`
}

type AssigneesResponse struct {
	TaskID    string   `json:"task_id"`
	Assignees []string `json:"assignees"`
}

type ClosureRequestsResponse struct {
	Items []domain.ClosureRequest `json:"items"`
}

type StatusLogResponse struct {
	Items []domain.TaskStatusLogEntry `json:"items"`
}

type MessagesPage struct {
	Items      []domain.MessageView `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type UnreadResponse struct {
	RoomID     string  `json:"room_id"`
	Unread     int     `json:"unread"`
	LastReadAt *string `json:"last_read_at,omitempty" format:"date-time"`
}

type MarkedResponse struct {
	Updated int `json:"updated"`
}

type MentionsResponse struct {
	Items []domain.ProjectMentions `json:"items"`
	Total int                      `json:"total"`
}

type MessageMentionsResponse struct {
	Items []domain.Mention `json:"items"`
}

type EventsPage struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ProjectStatusResponse = engine.ProjectStatusReport

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
