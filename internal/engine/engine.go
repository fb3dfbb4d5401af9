package engine

import (
	"context"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"taskroom/internal/config"
	"taskroom/internal/domain"
	"taskroom/internal/engine/auth"
	"taskroom/internal/events"
	"taskroom/internal/repo"
)

const defaultTxTimeout = 10 * time.Second

type Engine struct {
	DB       *sqlx.DB
	Repo     repo.Repo
	EventLog events.Writer
	Auth     auth.Service
	Log      logrus.FieldLogger
	Validate *validator.Validate
	Now      func() time.Time
	// TxTimeout bounds every transactional unit. Zero means defaultTxTimeout.
	TxTimeout time.Duration
}

func New(db *sqlx.DB, log logrus.FieldLogger) Engine {
	r := repo.Repo{DB: db}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return Engine{
		DB:        db,
		Repo:      r,
		Auth:      auth.Service{Repo: r},
		Log:       log,
		Validate:  newValidator(),
		Now:       time.Now,
		TxTimeout: defaultTxTimeout,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return domain.FormatTime(e.now())
}

// Actor is the authenticated principal every operation runs as.
type Actor struct {
	UserID     string `json:"user_id"`
	OrgID      string `json:"org_id"`
	SuperAdmin bool   `json:"super_admin"`
}

func (a Actor) check() error {
	if strings.TrimSpace(a.UserID) == "" {
		return UnauthorizedError{Reason: "missing user"}
	}
	if strings.TrimSpace(a.OrgID) == "" {
		return UnauthorizedError{Reason: "missing org"}
	}
	return nil
}

func (e Engine) validate(v any) error {
	val := e.Validate
	if val == nil {
		val = newValidator()
	}
	if err := val.Struct(v); err != nil {
		return validationErr(err)
	}
	return nil
}

func (e Engine) log(actor Actor) logrus.FieldLogger {
	l := e.Log
	if l == nil {
		nl := logrus.New()
		nl.SetOutput(io.Discard)
		l = nl
	}
	return l.WithFields(logrus.Fields{"org_id": actor.OrgID, "user_id": actor.UserID})
}

// withTx runs fn in one transaction bounded by TxTimeout. The transaction is
// rolled back unless fn returns nil and the commit succeeds.
func (e Engine) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	timeout := e.TxTimeout
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return internal(op+": begin", err)
	}
	defer tx.Rollback()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return internal(op+": commit", err)
	}
	return nil
}

func (e Engine) appendEvent(ctx context.Context, tx *sqlx.Tx, entry events.Entry) error {
	w := e.EventLog
	if w.Now == nil {
		w.Now = e.now
	}
	return internal("append event", w.Append(ctx, tx, entry))
}

func newID() string {
	return uuid.NewString()
}

// newOrderedID returns a time-ordered id for rows sorted by (timestamp, id).
func newOrderedID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", internal("generate id", err)
	}
	return id.String(), nil
}

// authorizeProject loads the project inside the actor's org and runs the
// access guard. tx may be nil.
func (e Engine) authorizeProject(ctx context.Context, tx *sqlx.Tx, actor Actor, projectID, action string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, tx, actor.OrgID, projectID)
	if err != nil {
		return domain.Project{}, storeErr("load project", "project", projectID, err)
	}
	ok, err := e.Auth.CanAccess(ctx, tx, actor.OrgID, projectID, actor.UserID, actor.SuperAdmin)
	if err != nil {
		return domain.Project{}, internal("check access", err)
	}
	if !ok {
		return domain.Project{}, auth.ForbiddenError{Action: action}
	}
	return p, nil
}

func (e Engine) authorizeTask(ctx context.Context, tx *sqlx.Tx, actor Actor, taskID, action string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tx, actor.OrgID, taskID)
	if err != nil {
		return domain.Task{}, storeErr("load task", "task", taskID, err)
	}
	if _, err := e.authorizeProject(ctx, tx, actor, t.ProjectID, action); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) authorizeRoom(ctx context.Context, tx *sqlx.Tx, actor Actor, roomID, action string) (domain.ChatRoom, error) {
	room, err := e.Repo.GetRoom(ctx, tx, actor.OrgID, roomID)
	if err != nil {
		return domain.ChatRoom{}, storeErr("load room", "room", roomID, err)
	}
	if _, err := e.authorizeProject(ctx, tx, actor, room.ProjectID, action); err != nil {
		return domain.ChatRoom{}, err
	}
	return room, nil
}

// ProjectConfig returns the project's stored settings or the defaults.
func (e Engine) ProjectConfig(ctx context.Context, actor Actor, projectID string) (*config.Config, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	if _, err := e.authorizeProject(ctx, nil, actor, projectID, "read project settings"); err != nil {
		return nil, err
	}
	return e.projectConfig(ctx, nil, actor.OrgID, projectID)
}

func (e Engine) projectConfig(ctx context.Context, tx *sqlx.Tx, orgID, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, tx, orgID, projectID)
	if err == repo.ErrNotFound {
		return config.Default(projectID), nil
	}
	if err != nil {
		return nil, internal("load project settings", err)
	}
	return cfg, nil
}

// ImportProjectConfig replaces the project's settings.
func (e Engine) ImportProjectConfig(ctx context.Context, actor Actor, projectID string, cfg *config.Config) error {
	if err := actor.check(); err != nil {
		return err
	}
	if cfg == nil {
		return ValidationError{Field: "config", Message: "is required"}
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return ValidationError{Field: "config", Message: err.Error()}
	}
	return e.withTx(ctx, "import project settings", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := e.authorizeProject(ctx, tx, actor, projectID, "change project settings"); err != nil {
			return err
		}
		if err := e.Repo.UpsertProjectConfig(ctx, tx, actor.OrgID, projectID, cfg, e.nowString()); err != nil {
			return internal("store project settings", err)
		}
		return e.appendEvent(ctx, tx, events.Entry{
			OrgID: actor.OrgID, Type: events.ProjectConfigImported, ProjectID: projectID,
			EntityKind: "project", EntityID: projectID, ActorID: actor.UserID,
		})
	})
}

// Projects lists the projects the actor can access.
func (e Engine) Projects(ctx context.Context, actor Actor) ([]domain.Project, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	ps, err := e.Repo.ListProjects(ctx, nil, actor.OrgID, e.Auth.AccessibleProjectsFilter(actor.UserID, actor.SuperAdmin))
	return ps, internal("list projects", err)
}

// ProjectStatusReport summarises a project for dashboards and the CLI.
type ProjectStatusReport struct {
	Project    domain.Project            `json:"project"`
	TaskCounts map[domain.TaskStatus]int `json:"task_counts"`
	HasRoom    bool                      `json:"has_room"`
}

// ProjectStatus counts tasks per status. Members who are not super admins
// only get counts for the tasks assigned to them.
func (e Engine) ProjectStatus(ctx context.Context, actor Actor, projectID string) (ProjectStatusReport, error) {
	if err := actor.check(); err != nil {
		return ProjectStatusReport{}, err
	}
	p, err := e.authorizeProject(ctx, nil, actor, projectID, "read project status")
	if err != nil {
		return ProjectStatusReport{}, err
	}
	rep := ProjectStatusReport{Project: p, TaskCounts: map[domain.TaskStatus]int{}}
	for _, s := range domain.TaskStatuses {
		rep.TaskCounts[s] = 0
	}
	if actor.SuperAdmin {
		counts, err := e.Repo.CountTasksByStatus(ctx, nil, actor.OrgID, p.ID)
		if err != nil {
			return ProjectStatusReport{}, internal("count tasks", err)
		}
		for s, n := range counts {
			rep.TaskCounts[s] = n
		}
	} else {
		board, err := e.TasksByStatus(ctx, actor, p.ID)
		if err != nil {
			return ProjectStatusReport{}, err
		}
		for _, s := range domain.TaskStatuses {
			rep.TaskCounts[s] = len(board.Tasks(s))
		}
	}
	rooms, err := e.Repo.CountRooms(ctx, nil, actor.OrgID, p.ID)
	if err != nil {
		return ProjectStatusReport{}, internal("count rooms", err)
	}
	rep.HasRoom = rooms > 0
	return rep, nil
}

type EventQuery struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	CursorTS   string
	CursorID   string
}

// Events returns a project's audit events, newest first.
func (e Engine) Events(ctx context.Context, actor Actor, q EventQuery) ([]domain.Event, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	if q.ProjectID == "" {
		if !actor.SuperAdmin {
			return nil, auth.ForbiddenError{Action: "read org events"}
		}
	} else if _, err := e.authorizeProject(ctx, nil, actor, q.ProjectID, "read project events"); err != nil {
		return nil, err
	}
	evts, err := e.Repo.LatestEvents(ctx, nil, repo.EventFilters{
		OrgID: actor.OrgID, ProjectID: q.ProjectID, Type: q.Type, EntityKind: q.EntityKind, EntityID: q.EntityID,
		Limit: q.Limit, CursorTS: q.CursorTS, CursorID: q.CursorID,
	})
	return evts, internal("list events", err)
}

// EventsSince returns up to limit project events after the (afterTS, afterID)
// cursor, oldest first. An empty cursor starts from the beginning.
func (e Engine) EventsSince(ctx context.Context, actor Actor, projectID, afterTS, afterID string, limit int) ([]domain.Event, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	if _, err := e.authorizeProject(ctx, nil, actor, projectID, "read project events"); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	evts, err := e.Repo.EventsAfter(ctx, nil, actor.OrgID, projectID, afterTS, afterID, limit)
	if err != nil {
		return nil, internal("list events", err)
	}
	if evts == nil {
		evts = []domain.Event{}
	}
	return evts, nil
}
