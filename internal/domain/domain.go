package domain

import "time"

// TimeLayout is the stored timestamp format. It is fixed width so that
// lexical comparison in SQL matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusBlocked    TaskStatus = "BLOCKED"
	StatusDone       TaskStatus = "DONE"
	StatusCanceled   TaskStatus = "CANCELED"
)

// TaskStatuses lists every status in board order.
var TaskStatuses = []TaskStatus{StatusOpen, StatusInProgress, StatusBlocked, StatusDone, StatusCanceled}

func (s TaskStatus) Valid() bool {
	for _, v := range TaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s closes the task.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusCanceled
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

type ClosureStatus string

const (
	ClosurePending      ClosureStatus = "PENDING"
	ClosureAcknowledged ClosureStatus = "ACKNOWLEDGED"
)

const (
	RoleMember     = "member"
	RoleSuperAdmin = "super_admin"
)

type Org struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}

type User struct {
	ID          string `json:"id" db:"id"`
	Username    string `json:"username" db:"username"`
	DisplayName string `json:"display_name,omitempty" db:"display_name"`
	CreatedAt   string `json:"created_at" db:"created_at" format:"date-time"`
}

type OrgMember struct {
	OrgID     string `json:"org_id" db:"org_id"`
	UserID    string `json:"user_id" db:"user_id"`
	Role      string `json:"role" db:"role" enum:"member,super_admin"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}

type Project struct {
	OrgID       string  `json:"org_id" db:"org_id"`
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	ParentID    *string `json:"parent_id,omitempty" db:"parent_id"`
	Status      string  `json:"status" db:"status" enum:"active,archived"`
	Description string  `json:"description,omitempty" db:"description"`
	CreatedAt   string  `json:"created_at" db:"created_at" format:"date-time"`
}

type Task struct {
	ID          string     `json:"id" db:"id"`
	OrgID       string     `json:"org_id" db:"org_id"`
	ProjectID   string     `json:"project_id" db:"project_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description,omitempty" db:"description"`
	Status      TaskStatus `json:"status" db:"status" enum:"OPEN,IN_PROGRESS,BLOCKED,DONE,CANCELED"`
	Priority    Priority   `json:"priority" db:"priority" enum:"LOW,MEDIUM,HIGH,URGENT"`
	CreatedBy   string     `json:"created_by" db:"created_by"`
	DueAt       *string    `json:"due_at,omitempty" db:"due_at" format:"date-time"`
	CreatedAt   string     `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" db:"updated_at" format:"date-time"`
}

// TaskBoard groups tasks by status. Every bucket is always present.
type TaskBoard struct {
	Open       []Task `json:"OPEN"`
	InProgress []Task `json:"IN_PROGRESS"`
	Blocked    []Task `json:"BLOCKED"`
	Done       []Task `json:"DONE"`
	Canceled   []Task `json:"CANCELED"`
}

func NewTaskBoard() TaskBoard {
	return TaskBoard{
		Open:       []Task{},
		InProgress: []Task{},
		Blocked:    []Task{},
		Done:       []Task{},
		Canceled:   []Task{},
	}
}

func (b *TaskBoard) bucket(s TaskStatus) *[]Task {
	switch s {
	case StatusOpen:
		return &b.Open
	case StatusInProgress:
		return &b.InProgress
	case StatusBlocked:
		return &b.Blocked
	case StatusDone:
		return &b.Done
	case StatusCanceled:
		return &b.Canceled
	}
	return nil
}

// Add files t under its status. Tasks with an unknown status are dropped.
func (b *TaskBoard) Add(t Task) {
	if p := b.bucket(t.Status); p != nil {
		*p = append(*p, t)
	}
}

// Tasks returns the bucket for s.
func (b TaskBoard) Tasks(s TaskStatus) []Task {
	if p := b.bucket(s); p != nil {
		return *p
	}
	return nil
}

type TaskStatusLogEntry struct {
	ID         string     `json:"id" db:"id"`
	OrgID      string     `json:"org_id" db:"org_id"`
	TaskID     string     `json:"task_id" db:"task_id"`
	FromStatus TaskStatus `json:"from_status" db:"from_status"`
	ToStatus   TaskStatus `json:"to_status" db:"to_status"`
	ChangedBy  string     `json:"changed_by" db:"changed_by"`
	ChangedAt  string     `json:"changed_at" db:"changed_at" format:"date-time"`
}

type ClosureRequest struct {
	ID             string        `json:"id" db:"id"`
	OrgID          string        `json:"org_id" db:"org_id"`
	TaskID         string        `json:"task_id" db:"task_id"`
	RequestedBy    string        `json:"requested_by" db:"requested_by"`
	RequestedAt    string        `json:"requested_at" db:"requested_at" format:"date-time"`
	Status         ClosureStatus `json:"status" db:"status" enum:"PENDING,ACKNOWLEDGED"`
	AcknowledgedBy *string       `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *string       `json:"acknowledged_at,omitempty" db:"acknowledged_at" format:"date-time"`
}

type ChatRoom struct {
	ID        string `json:"id" db:"id"`
	OrgID     string `json:"org_id" db:"org_id"`
	ProjectID string `json:"project_id" db:"project_id"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}

type ChatMessage struct {
	ID        string `json:"id" db:"id"`
	OrgID     string `json:"org_id" db:"org_id"`
	RoomID    string `json:"room_id" db:"room_id"`
	AuthorID  string `json:"author_id" db:"author_id"`
	Content   string `json:"content" db:"content"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}

// MessageView is a message as seen by one user.
type MessageView struct {
	ChatMessage
	MentionsMe  bool `json:"mentions_me" db:"mentions_me"`
	MentionRead bool `json:"mention_read" db:"mention_read"`
	Read        bool `json:"read" db:"-"`
}

type Mention struct {
	OrgID           string  `json:"org_id" db:"org_id"`
	MessageID       string  `json:"message_id" db:"message_id"`
	RoomID          string  `json:"room_id" db:"room_id"`
	MentionedUserID string  `json:"mentioned_user_id" db:"mentioned_user_id"`
	CreatedAt       string  `json:"created_at" db:"created_at" format:"date-time"`
	ReadAt          *string `json:"read_at,omitempty" db:"read_at" format:"date-time"`
}

type ReadCursor struct {
	OrgID      string `json:"org_id" db:"org_id"`
	RoomID     string `json:"room_id" db:"room_id"`
	UserID     string `json:"user_id" db:"user_id"`
	LastReadAt string `json:"last_read_at" db:"last_read_at" format:"date-time"`
}

type ProjectMentions struct {
	ProjectID    string `json:"project_id" db:"project_id"`
	ProjectName  string `json:"project_name" db:"project_name"`
	MentionCount int    `json:"mention_count" db:"mention_count"`
}

type Event struct {
	ID         string  `json:"id" db:"id"`
	OrgID      string  `json:"org_id" db:"org_id"`
	TS         string  `json:"ts" db:"ts" format:"date-time"`
	Type       string  `json:"type" db:"type"`
	ProjectID  *string `json:"project_id,omitempty" db:"project_id"`
	EntityKind string  `json:"entity_kind" db:"entity_kind"`
	EntityID   *string `json:"entity_id,omitempty" db:"entity_id"`
	ActorID    string  `json:"actor_id" db:"actor_id"`
	Payload    string  `json:"payload_json" db:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	OrgID     string `json:"org_id" db:"org_id"`
	UserID    string `json:"user_id" db:"user_id"`
	Name      string `json:"name" db:"name"`
	KeyHash   string `json:"-" db:"key_hash"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}
