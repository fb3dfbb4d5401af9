package engine

import (
	"context"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
	"taskroom/internal/engine/auth"
	"taskroom/internal/events"
)

// RequestClosure records that the actor wants the task's creator to close it.
// Repeating the call while the actor's request is still pending returns that
// request unchanged.
func (e Engine) RequestClosure(ctx context.Context, actor Actor, taskID string) (domain.ClosureRequest, error) {
	if err := actor.check(); err != nil {
		return domain.ClosureRequest{}, err
	}
	var out domain.ClosureRequest
	err := e.withTx(ctx, "request closure", func(ctx context.Context, tx *sqlx.Tx) error {
		t, err := e.authorizeTask(ctx, tx, actor, taskID, "request closure")
		if err != nil {
			return err
		}
		id, err := newOrderedID()
		if err != nil {
			return err
		}
		req := domain.ClosureRequest{
			ID:          id,
			OrgID:       actor.OrgID,
			TaskID:      t.ID,
			RequestedBy: actor.UserID,
			RequestedAt: e.nowString(),
			Status:      domain.ClosurePending,
		}
		created, err := e.Repo.InsertClosureRequest(ctx, tx, req)
		if err != nil {
			return internal("insert closure request", err)
		}
		if !created {
			out, err = e.Repo.GetPendingClosureRequest(ctx, tx, actor.OrgID, t.ID, actor.UserID)
			return internal("load closure request", err)
		}
		out = req
		return e.appendEvent(ctx, tx, events.Entry{
			OrgID: actor.OrgID, Type: events.TaskClosureRequested, ProjectID: t.ProjectID,
			EntityKind: "task", EntityID: t.ID, ActorID: actor.UserID,
			Payload: events.EventPayload{"request_id": req.ID},
		})
	})
	if err != nil {
		return domain.ClosureRequest{}, err
	}
	return out, nil
}

// ClosureRequests lists every closure request of the task, pending or not.
func (e Engine) ClosureRequests(ctx context.Context, actor Actor, taskID string) ([]domain.ClosureRequest, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	t, err := e.authorizeTask(ctx, nil, actor, taskID, "read closure requests")
	if err != nil {
		return nil, err
	}
	reqs, err := e.Repo.ListClosureRequests(ctx, nil, actor.OrgID, t.ID)
	if err != nil {
		return nil, internal("list closure requests", err)
	}
	if reqs == nil {
		reqs = []domain.ClosureRequest{}
	}
	return reqs, nil
}

// AcknowledgeClosureRequest lets the task creator mark a request as seen.
// Closing a task never acknowledges requests on its own.
func (e Engine) AcknowledgeClosureRequest(ctx context.Context, actor Actor, taskID, requestID string) (domain.ClosureRequest, error) {
	if err := actor.check(); err != nil {
		return domain.ClosureRequest{}, err
	}
	var out domain.ClosureRequest
	err := e.withTx(ctx, "acknowledge closure request", func(ctx context.Context, tx *sqlx.Tx) error {
		t, err := e.authorizeTask(ctx, tx, actor, taskID, "acknowledge closure requests")
		if err != nil {
			return err
		}
		if t.CreatedBy != actor.UserID {
			return auth.ForbiddenError{Action: "acknowledge closure requests on a task you did not create"}
		}
		req, err := e.Repo.GetClosureRequest(ctx, tx, actor.OrgID, requestID)
		if err != nil {
			return storeErr("load closure request", "closure request", requestID, err)
		}
		if req.TaskID != t.ID {
			return NotFoundError{Entity: "closure request", ID: requestID}
		}
		changed, err := e.Repo.AcknowledgeClosureRequest(ctx, tx, actor.OrgID, req.ID, actor.UserID, e.nowString())
		if err != nil {
			return internal("acknowledge closure request", err)
		}
		out, err = e.Repo.GetClosureRequest(ctx, tx, actor.OrgID, req.ID)
		if err != nil {
			return internal("load closure request", err)
		}
		if !changed {
			return nil
		}
		return e.appendEvent(ctx, tx, events.Entry{
			OrgID: actor.OrgID, Type: events.TaskClosureAcknowledged, ProjectID: t.ProjectID,
			EntityKind: "task", EntityID: t.ID, ActorID: actor.UserID,
			Payload: events.EventPayload{"request_id": req.ID, "requested_by": req.RequestedBy},
		})
	})
	if err != nil {
		return domain.ClosureRequest{}, err
	}
	return out, nil
}

// CloseTask moves the task to DONE or CANCELED. Only the task's creator may
// do this, super admins included.
func (e Engine) CloseTask(ctx context.Context, actor Actor, taskID string, target domain.TaskStatus) (domain.Task, error) {
	if err := actor.check(); err != nil {
		return domain.Task{}, err
	}
	if !target.Terminal() {
		return domain.Task{}, ValidationError{Field: "status", Message: "must be DONE or CANCELED"}
	}
	return e.setStatus(ctx, actor, taskID, target, "close task", func(_ context.Context, _ *sqlx.Tx, t domain.Task) error {
		if t.CreatedBy != actor.UserID {
			return auth.ForbiddenError{Action: "close a task you did not create"}
		}
		return nil
	})
}

// TransitionTask applies a status change requested through the API or CLI.
// Closing goes through CloseTask; leaving a closed status follows the
// project's allow_reopen setting.
func (e Engine) TransitionTask(ctx context.Context, actor Actor, taskID string, status domain.TaskStatus) (domain.Task, error) {
	if err := actor.check(); err != nil {
		return domain.Task{}, err
	}
	if !status.Valid() {
		return domain.Task{}, ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}
	if status.Terminal() {
		return e.CloseTask(ctx, actor, taskID, status)
	}
	return e.setStatus(ctx, actor, taskID, status, "update task status", func(ctx context.Context, tx *sqlx.Tx, t domain.Task) error {
		if !t.Status.Terminal() {
			return nil
		}
		cfg, err := e.projectConfig(ctx, tx, actor.OrgID, t.ProjectID)
		if err != nil {
			return err
		}
		if !cfg.Tasks.ReopenAllowed() {
			return ValidationError{Field: "status", Message: "task is closed and this project does not allow reopening"}
		}
		return nil
	})
}
