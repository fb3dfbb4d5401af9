package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskroom/internal/domain"
	"taskroom/internal/engine"
)

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		Description:   "Status and priority fall back to the project's configured defaults.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := e.ProjectConfig(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		status := domain.TaskStatus(input.Body.Status)
		priority := domain.Priority(input.Body.Priority)
		cfg.Tasks.Apply(&status, &priority)
		t, err := e.CreateTask(ctx, actor, engine.CreateTaskInput{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    priority,
			Status:      status,
			DueAt:       input.Body.DueAt,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t, Assignees: []string{}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-board",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "Tasks grouped by status",
		Description: "Super admins see every task of the project; other members see the tasks assigned to them.",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.TaskBoard `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		board, err := e.TasksByStatus(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.TaskBoard `json:"body"`
		}{Body: board}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		assignees, err := e.Assignees(ctx, actor, t.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t, Assignees: assignees}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-users",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assignees",
		Summary:     "Add assignees",
		Description: "Adds users to the task. Existing assignees are kept and repeated ids are ignored. Ids that are not members of the organization are rejected with 400 and nothing is assigned.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"task_id"`
		Body   AssignUsersRequest `json:"body"`
	}) (*struct {
		Body AssigneesResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := e.AssignUsers(ctx, actor, input.TaskID, input.Body.UserIDs)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body AssigneesResponse `json:"body"`
		}{Body: AssigneesResponse{TaskID: input.TaskID, Assignees: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status",
		Description: "Moving to DONE or CANCELED is limited to the task creator. Reopening follows the project's allow_reopen setting.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.TransitionTask(ctx, actor, input.TaskID, domain.TaskStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-status-log",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/status-log",
		Summary:     "Task status history",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body StatusLogResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.StatusLog(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body StatusLogResponse `json:"body"`
		}{Body: StatusLogResponse{Items: entries}}, nil
	})
}

func registerClosure(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "close-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/close",
		Summary:     "Close task",
		Description: "Only the creator may close a task. status defaults to DONE.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   CloseTaskRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target := domain.TaskStatus(input.Body.Status)
		if target == "" {
			target = domain.StatusDone
		}
		t, err := e.CloseTask(ctx, actor, input.TaskID, target)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-closure",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/closure-requests",
		Summary:       "Ask the creator to close the task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.ClosureRequest `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.RequestClosure(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.ClosureRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-closure-requests",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/closure-requests",
		Summary:     "List closure requests",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body ClosureRequestsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reqs, err := e.ClosureRequests(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body ClosureRequestsResponse `json:"body"`
		}{Body: ClosureRequestsResponse{Items: reqs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-closure-request",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/closure-requests/{request_id}/acknowledge",
		Summary:     "Acknowledge a closure request",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID    string `path:"task_id"`
		RequestID string `path:"request_id"`
	}) (*struct {
		Body domain.ClosureRequest `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.AcknowledgeClosureRequest(ctx, actor, input.TaskID, input.RequestID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.ClosureRequest `json:"body"`
		}{Body: req}, nil
	})
}
