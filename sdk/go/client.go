package taskroomsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskroom HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API prefix,
// e.g. http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	CreatedBy   string   `json:"created_by"`
	DueAt       string   `json:"due_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	Assignees   []string `json:"assignees,omitempty"`
}

// Board groups a project's tasks by status.
type Board struct {
	Open       []Task `json:"OPEN"`
	InProgress []Task `json:"IN_PROGRESS"`
	Blocked    []Task `json:"BLOCKED"`
	Done       []Task `json:"DONE"`
	Canceled   []Task `json:"CANCELED"`
}

// Tasks returns the bucket for status, or nil for an unknown status.
func (b Board) Tasks(status string) []Task {
	switch status {
	case "OPEN":
		return b.Open
	case "IN_PROGRESS":
		return b.InProgress
	case "BLOCKED":
		return b.Blocked
	case "DONE":
		return b.Done
	case "CANCELED":
		return b.Canceled
	}
	return nil
}

type ClosureRequest struct {
	ID             string `json:"id"`
	TaskID         string `json:"task_id"`
	RequestedBy    string `json:"requested_by"`
	RequestedAt    string `json:"requested_at"`
	Status         string `json:"status"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
	AcknowledgedAt string `json:"acknowledged_at,omitempty"`
}

type StatusChange struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ChangedBy  string `json:"changed_by"`
	ChangedAt  string `json:"changed_at"`
}

type Room struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	CreatedAt string `json:"created_at"`
}

// Message is a chat message as seen by the caller.
type Message struct {
	ID          string `json:"id"`
	RoomID      string `json:"room_id"`
	AuthorID    string `json:"author_id"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at"`
	MentionsMe  bool   `json:"mentions_me"`
	MentionRead bool   `json:"mention_read"`
	Read        bool   `json:"read"`
}

type MessagesPage struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

type Unread struct {
	RoomID     string `json:"room_id"`
	Unread     int    `json:"unread"`
	LastReadAt string `json:"last_read_at,omitempty"`
}

// ProjectMentions counts unread mentions of the caller in one project.
type ProjectMentions struct {
	ProjectID    string `json:"project_id"`
	ProjectName  string `json:"project_name"`
	MentionCount int    `json:"mention_count"`
}

type Mentions struct {
	Items []ProjectMentions `json:"items"`
	Total int               `json:"total"`
}

// Event represents a log entry.
type Event struct {
	ID         string `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
	DueAt       string `json:"due_at,omitempty"`
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID string, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, path("projects", projectID, "tasks"), in, &resp)
	return resp, err
}

// Board returns the tasks of a project visible to the caller.
func (c *Client) Board(ctx context.Context, projectID string) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, path("projects", projectID, "tasks"), nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, path("tasks", taskID), nil, &resp)
	return resp, err
}

// Assign adds assignees and returns the full assignee list.
func (c *Client) Assign(ctx context.Context, taskID string, userIDs ...string) ([]string, error) {
	var resp struct {
		Assignees []string `json:"assignees"`
	}
	body := map[string]any{"user_ids": userIDs}
	err := c.do(ctx, http.MethodPost, path("tasks", taskID, "assignees"), body, &resp)
	return resp.Assignees, err
}

func (c *Client) SetStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	body := map[string]any{"status": status}
	err := c.do(ctx, http.MethodPatch, path("tasks", taskID, "status"), body, &resp)
	return resp, err
}

// CloseTask closes a task as DONE or CANCELED. An empty status means DONE.
func (c *Client) CloseTask(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	body := map[string]any{}
	if status != "" {
		body["status"] = status
	}
	err := c.do(ctx, http.MethodPost, path("tasks", taskID, "close"), body, &resp)
	return resp, err
}

func (c *Client) StatusLog(ctx context.Context, taskID string) ([]StatusChange, error) {
	var resp struct {
		Items []StatusChange `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, path("tasks", taskID, "status-log"), nil, &resp)
	return resp.Items, err
}

func (c *Client) RequestClosure(ctx context.Context, taskID string) (ClosureRequest, error) {
	var resp ClosureRequest
	err := c.do(ctx, http.MethodPost, path("tasks", taskID, "closure-requests"), nil, &resp)
	return resp, err
}

func (c *Client) ClosureRequests(ctx context.Context, taskID string) ([]ClosureRequest, error) {
	var resp struct {
		Items []ClosureRequest `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, path("tasks", taskID, "closure-requests"), nil, &resp)
	return resp.Items, err
}

func (c *Client) AcknowledgeClosure(ctx context.Context, taskID, requestID string) (ClosureRequest, error) {
	var resp ClosureRequest
	err := c.do(ctx, http.MethodPost, path("tasks", taskID, "closure-requests", requestID, "acknowledge"), nil, &resp)
	return resp, err
}

// Room returns the project's chat room, creating it on first use.
func (c *Client) Room(ctx context.Context, projectID string) (Room, error) {
	var resp Room
	err := c.do(ctx, http.MethodGet, path("projects", projectID, "room"), nil, &resp)
	return resp, err
}

func (c *Client) Send(ctx context.Context, roomID, content string) (Message, error) {
	var resp Message
	body := map[string]any{"content": content}
	err := c.do(ctx, http.MethodPost, path("rooms", roomID, "messages"), body, &resp)
	return resp, err
}

// Messages returns a page of messages, oldest first. Pass the previous
// page's NextCursor to go back in history.
func (c *Client) Messages(ctx context.Context, roomID string, limit int, cursor string) (MessagesPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp MessagesPage
	err := c.do(ctx, http.MethodGet, withQuery(path("rooms", roomID, "messages"), q), nil, &resp)
	return resp, err
}

func (c *Client) Unread(ctx context.Context, roomID string) (Unread, error) {
	var resp Unread
	err := c.do(ctx, http.MethodGet, path("rooms", roomID, "unread"), nil, &resp)
	return resp, err
}

func (c *Client) MarkRead(ctx context.Context, roomID string) (Unread, error) {
	var resp Unread
	err := c.do(ctx, http.MethodPost, path("rooms", roomID, "read"), nil, &resp)
	return resp, err
}

// Mentions returns the caller's unread mentions grouped by project.
func (c *Client) Mentions(ctx context.Context) (Mentions, error) {
	var resp Mentions
	err := c.do(ctx, http.MethodGet, "me/mentions", nil, &resp)
	return resp, err
}

func (c *Client) MarkRoomMentionsRead(ctx context.Context, roomID string) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	err := c.do(ctx, http.MethodPost, path("rooms", roomID, "mentions", "read"), nil, &resp)
	return resp.Updated, err
}

func (c *Client) MarkMessageMentionsRead(ctx context.Context, messageID string) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	err := c.do(ctx, http.MethodPost, path("messages", messageID, "mentions", "read"), nil, &resp)
	return resp.Updated, err
}

// EventsPage returns a page of project events, newest first.
func (c *Client) EventsPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(path("projects", projectID, "events"), q), nil, &resp)
	return resp, err
}

// PollMentions calls fn with the caller's mention badge whenever its total
// changes, starting with the first successful fetch. It returns when ctx is
// done or fn returns an error. Transient API errors are skipped.
func (c *Client) PollMentions(ctx context.Context, interval time.Duration, fn func(Mentions) error) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := -1
	for {
		m, err := c.Mentions(ctx)
		switch {
		case err == nil:
			if m.Total != last {
				last = m.Total
				if err := fn(m); err != nil {
					return err
				}
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case IsStatus(err, http.StatusUnauthorized):
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
