package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jmoiron/sqlx"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"taskroom/internal/config"
	"taskroom/internal/domain"
	"taskroom/internal/engine"
	"taskroom/internal/events"
	"taskroom/internal/mention"
	"taskroom/internal/repo"
)

const (
	apiKeyPrefix   = "trk_"
	apiKeyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	apiKeyLength   = 40
)

// Admin covers org, user, project and key administration. These are plain
// record management around the engine and are not access-guarded; callers
// decide who may run them.
type Admin struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func NewAdmin(r repo.Repo) Admin {
	return Admin{Repo: r, Now: time.Now}
}

func (a Admin) now() string {
	if a.Now != nil {
		return domain.FormatTime(a.Now())
	}
	return domain.FormatTime(time.Now())
}

func (a Admin) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := a.Repo.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (a Admin) appendEvent(ctx context.Context, tx *sqlx.Tx, entry events.Entry) error {
	w := a.Events
	if w.Now == nil && a.Now != nil {
		w.Now = a.Now
	}
	return w.Append(ctx, tx, entry)
}

func (a Admin) CreateOrg(ctx context.Context, id, name string) (domain.Org, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = slug.Make(name)
	}
	if id == "" {
		return domain.Org{}, engine.ValidationError{Field: "id", Message: "is required"}
	}
	o := domain.Org{ID: id, Name: strings.TrimSpace(name), CreatedAt: a.now()}
	if o.Name == "" {
		o.Name = id
	}
	if err := a.Repo.InsertOrg(ctx, nil, o); err != nil {
		return domain.Org{}, fmt.Errorf("insert org: %w", err)
	}
	return o, nil
}

// CreateUser creates the user if the username is new and makes them a member
// of the org with the given role.
func (a Admin) CreateUser(ctx context.Context, orgID, username, displayName, role string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if !mention.ValidHandle(username) {
		return domain.User{}, engine.ValidationError{Field: "username", Message: "must contain only letters, digits and underscores"}
	}
	if role == "" {
		role = domain.RoleMember
	}
	if role != domain.RoleMember && role != domain.RoleSuperAdmin {
		return domain.User{}, engine.ValidationError{Field: "role", Message: "must be member or super_admin"}
	}
	var u domain.User
	err := a.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := a.Repo.GetOrg(ctx, tx, orgID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return engine.NotFoundError{Entity: "org", ID: orgID}
			}
			return err
		}
		now := a.now()
		existing, err := a.Repo.GetUserByUsername(ctx, tx, username)
		switch {
		case err == nil:
			u = existing
		case errors.Is(err, repo.ErrNotFound):
			u = domain.User{ID: uuid.NewString(), Username: username, DisplayName: strings.TrimSpace(displayName), CreatedAt: now}
			if err := a.Repo.InsertUser(ctx, tx, u); err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
		default:
			return err
		}
		return a.Repo.UpsertOrgMember(ctx, tx, domain.OrgMember{OrgID: orgID, UserID: u.ID, Role: role, CreatedAt: now})
	})
	return u, err
}

type BootstrapOptions struct {
	OrgID         string
	OrgName       string
	AdminUsername string
}

type BootstrapResult struct {
	Org   domain.Org  `json:"org"`
	Admin domain.User `json:"admin"`
}

// Bootstrap creates an org with a first super admin.
func (a Admin) Bootstrap(ctx context.Context, opts BootstrapOptions) (BootstrapResult, error) {
	org, err := a.CreateOrg(ctx, opts.OrgID, opts.OrgName)
	if err != nil {
		return BootstrapResult{}, err
	}
	admin, err := a.CreateUser(ctx, org.ID, opts.AdminUsername, "", domain.RoleSuperAdmin)
	if err != nil {
		return BootstrapResult{}, err
	}
	return BootstrapResult{Org: org, Admin: admin}, nil
}

type CreateProjectOptions struct {
	OrgID       string
	ID          string
	Name        string
	ParentID    string
	Description string
	CreatorID   string
}

// CreateProject stores the project with default settings and makes the
// creator its first member. An empty ID is derived from the name.
func (a Admin) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, engine.ValidationError{Field: "name", Message: "is required"}
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = slug.Make(name)
	}
	if !slug.IsSlug(id) {
		return domain.Project{}, engine.ValidationError{Field: "id", Message: "must be a lowercase slug"}
	}
	p := domain.Project{
		OrgID:       opts.OrgID,
		ID:          id,
		Name:        name,
		Status:      "active",
		Description: strings.TrimSpace(opts.Description),
		CreatedAt:   a.now(),
	}
	if opts.ParentID != "" {
		parent := opts.ParentID
		p.ParentID = &parent
	}
	err := a.inTx(ctx, func(tx *sqlx.Tx) error {
		if p.ParentID != nil {
			if _, err := a.Repo.GetProject(ctx, tx, p.OrgID, *p.ParentID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return engine.NotFoundError{Entity: "project", ID: *p.ParentID}
				}
				return err
			}
		}
		if err := a.Repo.InsertProject(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := a.Repo.UpsertProjectConfig(ctx, tx, p.OrgID, p.ID, config.Default(p.ID), p.CreatedAt); err != nil {
			return fmt.Errorf("insert project config: %w", err)
		}
		if opts.CreatorID != "" {
			if err := a.Repo.AddProjectMember(ctx, tx, p.OrgID, p.ID, opts.CreatorID, p.CreatedAt); err != nil {
				return fmt.Errorf("add creator: %w", err)
			}
		}
		return a.appendEvent(ctx, tx, events.Entry{
			OrgID: p.OrgID, Type: events.ProjectCreated, ProjectID: p.ID,
			EntityKind: "project", EntityID: p.ID, ActorID: opts.CreatorID,
			Payload: events.EventPayload{"name": p.Name},
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// AddProjectMember grants userID access to the project. The user must belong
// to the org.
func (a Admin) AddProjectMember(ctx context.Context, orgID, projectID, userID, actorID string) error {
	return a.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := a.Repo.GetProject(ctx, tx, orgID, projectID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return engine.NotFoundError{Entity: "project", ID: projectID}
			}
			return err
		}
		if _, err := a.Repo.GetOrgMember(ctx, tx, orgID, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return engine.ValidationError{Field: "user_id", Message: "not a member of the organization"}
			}
			return err
		}
		if err := a.Repo.AddProjectMember(ctx, tx, orgID, projectID, userID, a.now()); err != nil {
			return err
		}
		return a.appendEvent(ctx, tx, events.Entry{
			OrgID: orgID, Type: events.ProjectMemberAdded, ProjectID: projectID,
			EntityKind: "project", EntityID: projectID, ActorID: actorID,
			Payload: events.EventPayload{"user_id": userID},
		})
	})
}

// RemoveProjectMember revokes a member's project access. Unknown members are
// ignored.
func (a Admin) RemoveProjectMember(ctx context.Context, orgID, projectID, userID, actorID string) error {
	return a.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := a.Repo.GetProject(ctx, tx, orgID, projectID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return engine.NotFoundError{Entity: "project", ID: projectID}
			}
			return err
		}
		if err := a.Repo.RemoveProjectMember(ctx, tx, orgID, projectID, userID); err != nil {
			return err
		}
		return a.appendEvent(ctx, tx, events.Entry{
			OrgID: orgID, Type: events.ProjectMemberRemoved, ProjectID: projectID,
			EntityKind: "project", EntityID: projectID, ActorID: actorID,
			Payload: events.EventPayload{"user_id": userID},
		})
	})
}

// ArchiveProject marks the project archived. Its tasks and chat stay readable.
func (a Admin) ArchiveProject(ctx context.Context, orgID, projectID, actorID string) error {
	return a.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := a.Repo.SetProjectStatus(ctx, tx, orgID, projectID, "archived"); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return engine.NotFoundError{Entity: "project", ID: projectID}
			}
			return err
		}
		return a.appendEvent(ctx, tx, events.Entry{
			OrgID: orgID, Type: events.ProjectArchived, ProjectID: projectID,
			EntityKind: "project", EntityID: projectID, ActorID: actorID,
		})
	})
}

func (a Admin) OrgMembers(ctx context.Context, orgID string) ([]repo.OrgMemberRow, error) {
	rows, err := a.Repo.ListOrgMembers(ctx, nil, orgID)
	if rows == nil {
		rows = []repo.OrgMemberRow{}
	}
	return rows, err
}

// IssueAPIKey creates a key for the user and returns the secret once.
func (a Admin) IssueAPIKey(ctx context.Context, orgID, userID, name string) (string, domain.APIKey, error) {
	if _, err := a.Repo.GetOrgMember(ctx, nil, orgID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", domain.APIKey{}, engine.ValidationError{Field: "user_id", Message: "not a member of the organization"}
		}
		return "", domain.APIKey{}, err
	}
	raw, err := gonanoid.Generate(apiKeyAlphabet, apiKeyLength)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	secret := apiKeyPrefix + raw
	key := domain.APIKey{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: a.now(),
	}
	if err := a.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return secret, key, nil
}

// ResolveUser accepts a user id or a username.
func (a Admin) ResolveUser(ctx context.Context, ref string) (domain.User, error) {
	ref = strings.TrimSpace(ref)
	u, err := a.Repo.GetUser(ctx, nil, ref)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	u, err = a.Repo.GetUserByUsername(ctx, nil, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, engine.NotFoundError{Entity: "user", ID: ref}
	}
	return u, err
}

// Actor builds the principal for a user of an org from their membership.
func (a Admin) Actor(ctx context.Context, orgID, userRef string) (engine.Actor, error) {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(userRef) == "" {
		return engine.Actor{}, engine.UnauthorizedError{Reason: "org and user are required"}
	}
	u, err := a.ResolveUser(ctx, userRef)
	if err != nil {
		var nf engine.NotFoundError
		if errors.As(err, &nf) {
			return engine.Actor{}, engine.UnauthorizedError{Reason: "unknown user"}
		}
		return engine.Actor{}, err
	}
	return ActorForMember(ctx, a.Repo, orgID, u.ID)
}

// ActorForMember returns the principal for userID in orgID. Users outside
// the org get an UnauthorizedError.
func ActorForMember(ctx context.Context, r repo.Repo, orgID, userID string) (engine.Actor, error) {
	m, err := r.GetOrgMember(ctx, nil, orgID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return engine.Actor{}, engine.UnauthorizedError{Reason: "not a member of the organization"}
	}
	if err != nil {
		return engine.Actor{}, err
	}
	return engine.Actor{UserID: userID, OrgID: orgID, SuperAdmin: m.Role == domain.RoleSuperAdmin}, nil
}

func (a Admin) APIKeys(ctx context.Context, orgID, userID string) ([]domain.APIKey, error) {
	keys, err := a.Repo.ListAPIKeys(ctx, orgID, userID)
	if keys == nil {
		keys = []domain.APIKey{}
	}
	return keys, err
}

func (a Admin) RevokeAPIKey(ctx context.Context, orgID, id string) error {
	err := a.Repo.DeleteAPIKey(ctx, orgID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return engine.NotFoundError{Entity: "api key", ID: id}
	}
	return err
}
