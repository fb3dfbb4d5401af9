package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"taskroom/internal/domain"
	"taskroom/internal/events"
)

const maxStatusAttempts = 3

var errStatusRace = errors.New("task status changed during update")

// CreateTaskInput carries an already-defaulted task. Callers resolve the
// priority and status from project settings before calling CreateTask.
type CreateTaskInput struct {
	ProjectID   string            `json:"project_id" validate:"required"`
	Title       string            `json:"title" validate:"required,max=500"`
	Description string            `json:"description" validate:"max=20000"`
	Priority    domain.Priority   `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH URGENT"`
	Status      domain.TaskStatus `json:"status" validate:"required,oneof=OPEN IN_PROGRESS BLOCKED DONE CANCELED"`
	DueAt       *time.Time        `json:"due_at"`
}

func (e Engine) CreateTask(ctx context.Context, actor Actor, in CreateTaskInput) (domain.Task, error) {
	if err := actor.check(); err != nil {
		return domain.Task{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := e.validate(in); err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	t := domain.Task{
		ID:          newID(),
		OrgID:       actor.OrgID,
		ProjectID:   in.ProjectID,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DueAt != nil {
		due := domain.FormatTime(*in.DueAt)
		t.DueAt = &due
	}
	err := e.withTx(ctx, "create task", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := e.authorizeProject(ctx, tx, actor, in.ProjectID, "create tasks"); err != nil {
			return err
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return internal("insert task", err)
		}
		return e.appendEvent(ctx, tx, events.Entry{
			OrgID: actor.OrgID, Type: events.TaskCreated, ProjectID: t.ProjectID,
			EntityKind: "task", EntityID: t.ID, ActorID: actor.UserID,
			Payload: events.EventPayload{"title": t.Title, "status": t.Status, "priority": t.Priority},
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.log(actor).WithField("task_id", t.ID).Debug("task created")
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, actor Actor, taskID string) (domain.Task, error) {
	if err := actor.check(); err != nil {
		return domain.Task{}, err
	}
	return e.authorizeTask(ctx, nil, actor, taskID, "read task")
}

// TasksByStatus returns the project board. Super admins see every task;
// other members see only tasks assigned to them.
func (e Engine) TasksByStatus(ctx context.Context, actor Actor, projectID string) (domain.TaskBoard, error) {
	board := domain.NewTaskBoard()
	if err := actor.check(); err != nil {
		return board, err
	}
	if _, err := e.authorizeProject(ctx, nil, actor, projectID, "view tasks"); err != nil {
		return board, err
	}
	assignedTo := actor.UserID
	if actor.SuperAdmin {
		assignedTo = ""
	}
	tasks, err := e.Repo.ListProjectTasks(ctx, nil, actor.OrgID, projectID, assignedTo)
	if err != nil {
		return board, internal("list tasks", err)
	}
	for _, t := range tasks {
		board.Add(t)
	}
	return board, nil
}

// AssignUsers adds users to the task's assignee set and returns the full set.
// Users already assigned are left as they are; nobody is removed.
func (e Engine) AssignUsers(ctx context.Context, actor Actor, taskID string, userIDs []string) ([]string, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	ids := uniqueTrimmed(userIDs)
	var assignees []string
	err := e.withTx(ctx, "assign users", func(ctx context.Context, tx *sqlx.Tx) error {
		t, err := e.authorizeTask(ctx, tx, actor, taskID, "assign users")
		if err != nil {
			return err
		}
		members, err := e.Repo.OrgMemberIDs(ctx, tx, actor.OrgID, ids)
		if err != nil {
			return internal("check assignees", err)
		}
		if missing := difference(ids, members); len(missing) > 0 {
			return ValidationError{Field: "user_ids", Message: "not members of the organization: " + strings.Join(missing, ", ")}
		}
		added, err := e.Repo.AddAssignments(ctx, tx, actor.OrgID, t.ID, ids, e.nowString())
		if err != nil {
			return internal("insert assignments", err)
		}
		if added > 0 {
			if err := e.appendEvent(ctx, tx, events.Entry{
				OrgID: actor.OrgID, Type: events.TaskAssigned, ProjectID: t.ProjectID,
				EntityKind: "task", EntityID: t.ID, ActorID: actor.UserID,
				Payload: events.EventPayload{"user_ids": ids, "added": added},
			}); err != nil {
				return err
			}
		}
		assignees, err = e.Repo.ListAssignees(ctx, tx, actor.OrgID, t.ID)
		return internal("list assignees", err)
	})
	if err != nil {
		return nil, err
	}
	if assignees == nil {
		assignees = []string{}
	}
	return assignees, nil
}

func (e Engine) Assignees(ctx context.Context, actor Actor, taskID string) ([]string, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	t, err := e.authorizeTask(ctx, nil, actor, taskID, "read task")
	if err != nil {
		return nil, err
	}
	ids, err := e.Repo.ListAssignees(ctx, nil, actor.OrgID, t.ID)
	if err != nil {
		return nil, internal("list assignees", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// UpdateTaskStatus writes the new status together with its status log entry.
// Reopening closed tasks is not blocked here.
func (e Engine) UpdateTaskStatus(ctx context.Context, actor Actor, taskID string, status domain.TaskStatus) (domain.Task, error) {
	if err := actor.check(); err != nil {
		return domain.Task{}, err
	}
	if !status.Valid() {
		return domain.Task{}, ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}
	return e.setStatus(ctx, actor, taskID, status, "update task status", nil)
}

type statusCheck func(ctx context.Context, tx *sqlx.Tx, t domain.Task) error

// setStatus performs the compare-and-set status write. A lost race is retried
// with a fresh read; check runs against the current row on every attempt.
func (e Engine) setStatus(ctx context.Context, actor Actor, taskID string, status domain.TaskStatus, action string, check statusCheck) (domain.Task, error) {
	log := e.log(actor).WithFields(logrus.Fields{"task_id": taskID, "to_status": status})
	for attempt := 1; ; attempt++ {
		var out domain.Task
		err := e.withTx(ctx, "update task status", func(ctx context.Context, tx *sqlx.Tx) error {
			t, err := e.authorizeTask(ctx, tx, actor, taskID, action)
			if err != nil {
				return err
			}
			if check != nil {
				if err := check(ctx, tx, t); err != nil {
					return err
				}
			}
			if t.Status == status {
				out = t
				return nil
			}
			now := e.nowString()
			ok, err := e.Repo.CompareAndSetTaskStatus(ctx, tx, actor.OrgID, t.ID, t.Status, status, now)
			if err != nil {
				return internal("update task status", err)
			}
			if !ok {
				return errStatusRace
			}
			logID, err := newOrderedID()
			if err != nil {
				return err
			}
			entry := domain.TaskStatusLogEntry{
				ID: logID, OrgID: actor.OrgID, TaskID: t.ID,
				FromStatus: t.Status, ToStatus: status, ChangedBy: actor.UserID, ChangedAt: now,
			}
			if err := e.Repo.InsertStatusLog(ctx, tx, entry); err != nil {
				return internal("append status log", err)
			}
			if err := e.appendEvent(ctx, tx, events.Entry{
				OrgID: actor.OrgID, Type: events.TaskStatusChanged, ProjectID: t.ProjectID,
				EntityKind: "task", EntityID: t.ID, ActorID: actor.UserID,
				Payload: events.EventPayload{"from": t.Status, "to": status},
			}); err != nil {
				return err
			}
			t.Status = status
			t.UpdatedAt = now
			out = t
			return nil
		})
		if errors.Is(err, errStatusRace) {
			if attempt < maxStatusAttempts {
				log.WithField("attempt", attempt).Warn("task status raced, retrying")
				continue
			}
			return domain.Task{}, ConflictError{Entity: "task", Err: err}
		}
		if err != nil {
			return domain.Task{}, err
		}
		log.Debug("task status updated")
		return out, nil
	}
}

// StatusLog returns the task's transitions oldest first.
func (e Engine) StatusLog(ctx context.Context, actor Actor, taskID string) ([]domain.TaskStatusLogEntry, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	t, err := e.authorizeTask(ctx, nil, actor, taskID, "read task history")
	if err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListStatusLog(ctx, nil, actor.OrgID, t.ID)
	if err != nil {
		return nil, internal("list status log", err)
	}
	if entries == nil {
		entries = []domain.TaskStatusLogEntry{}
	}
	return entries, nil
}

func uniqueTrimmed(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// difference returns the elements of a missing from b, sorted.
func difference(a, b []string) []string {
	have := map[string]bool{}
	for _, v := range b {
		have[v] = true
	}
	var out []string
	for _, v := range a {
		if !have[v] {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
