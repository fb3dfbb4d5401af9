package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

// Event types written by the engine.
const (
	TaskCreated             = "task.created"
	TaskAssigned            = "task.assigned"
	TaskStatusChanged       = "task.status_changed"
	TaskClosureRequested    = "task.closure_requested"
	TaskClosureAcknowledged = "task.closure_acknowledged"
	RoomCreated             = "chat.room_created"
	MessageSent             = "chat.message_sent"
	ProjectCreated          = "project.created"
	ProjectMemberAdded      = "project.member_added"
	ProjectMemberRemoved    = "project.member_removed"
	ProjectArchived         = "project.archived"
	ProjectConfigImported   = "project.config_imported"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Entry identifies what an event is about.
type Entry struct {
	OrgID      string
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Append writes the event inside tx so it commits or rolls back with the change.
func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO events(id, org_id, ts, type, project_id, entity_kind, entity_id, actor_id, payload_json) VALUES (?,?,?,?,?,?,?,?,?)`),
		id.String(), e.OrgID, domain.FormatTime(w.Now()), e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
