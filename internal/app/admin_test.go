package app_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"taskroom/internal/app"
	"taskroom/internal/engine"
	"taskroom/internal/repo"
)

func openRuntime(t *testing.T) (*app.Runtime, app.BootstrapResult) {
	t.Helper()
	rt, err := app.Open(app.Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	res, err := rt.Admin.Bootstrap(context.Background(), app.BootstrapOptions{OrgName: "Acme Corp", AdminUsername: "admin"})
	require.NoError(t, err)
	return rt, res
}

func TestBootstrapCreatesSuperAdmin(t *testing.T) {
	rt, res := openRuntime(t)
	ctx := context.Background()
	require.Equal(t, "acme-corp", res.Org.ID)

	actor, err := rt.Admin.Actor(ctx, res.Org.ID, "admin")
	require.NoError(t, err)
	require.True(t, actor.SuperAdmin)
	require.Equal(t, res.Admin.ID, actor.UserID)

	_, err = rt.Admin.Actor(ctx, res.Org.ID, "ghost")
	var unauth engine.UnauthorizedError
	require.ErrorAs(t, err, &unauth)
}

func TestCreateUser(t *testing.T) {
	rt, res := openRuntime(t)
	ctx := context.Background()

	for _, bad := range []string{"", "al ice", "bob@example", "dash-name"} {
		_, err := rt.Admin.CreateUser(ctx, res.Org.ID, bad, "", "")
		var verr engine.ValidationError
		require.ErrorAs(t, err, &verr, bad)
	}
	_, err := rt.Admin.CreateUser(ctx, res.Org.ID, "alice", "", "owner")
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = rt.Admin.CreateUser(ctx, "nope", "alice", "", "")
	var nf engine.NotFoundError
	require.ErrorAs(t, err, &nf)

	alice, err := rt.Admin.CreateUser(ctx, res.Org.ID, "alice", "Alice", "")
	require.NoError(t, err)
	again, err := rt.Admin.CreateUser(ctx, res.Org.ID, "alice", "", "")
	require.NoError(t, err)
	require.Equal(t, alice.ID, again.ID)

	members, err := rt.Admin.OrgMembers(ctx, res.Org.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
}

func TestCreateProject(t *testing.T) {
	rt, res := openRuntime(t)
	ctx := context.Background()
	alice, err := rt.Admin.CreateUser(ctx, res.Org.ID, "alice", "", "")
	require.NoError(t, err)

	p, err := rt.Admin.CreateProject(ctx, app.CreateProjectOptions{OrgID: res.Org.ID, Name: "Web Site", CreatorID: alice.ID})
	require.NoError(t, err)
	require.Equal(t, "web-site", p.ID)
	require.Equal(t, "active", p.Status)

	member, err := rt.Repo.IsProjectMember(ctx, nil, res.Org.ID, p.ID, alice.ID)
	require.NoError(t, err)
	require.True(t, member)
	cfg, err := rt.Repo.GetProjectConfig(ctx, nil, res.Org.ID, p.ID)
	require.NoError(t, err)
	require.True(t, cfg.Tasks.ReopenAllowed())

	_, err = rt.Admin.CreateProject(ctx, app.CreateProjectOptions{OrgID: res.Org.ID, ID: "Not A Slug", Name: "x"})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	_, err = rt.Admin.CreateProject(ctx, app.CreateProjectOptions{OrgID: res.Org.ID, Name: "Child", ParentID: "missing"})
	var nf engine.NotFoundError
	require.ErrorAs(t, err, &nf)

	child, err := rt.Admin.CreateProject(ctx, app.CreateProjectOptions{OrgID: res.Org.ID, Name: "Child", ParentID: p.ID})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
}

func TestProjectMembershipAndArchive(t *testing.T) {
	rt, res := openRuntime(t)
	ctx := context.Background()
	bob, err := rt.Admin.CreateUser(ctx, res.Org.ID, "bob", "", "")
	require.NoError(t, err)
	p, err := rt.Admin.CreateProject(ctx, app.CreateProjectOptions{OrgID: res.Org.ID, Name: "Web", CreatorID: res.Admin.ID})
	require.NoError(t, err)

	err = rt.Admin.AddProjectMember(ctx, res.Org.ID, p.ID, "stranger", res.Admin.ID)
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	require.NoError(t, rt.Admin.AddProjectMember(ctx, res.Org.ID, p.ID, bob.ID, res.Admin.ID))
	projects, err := rt.Repo.ListProjects(ctx, nil, res.Org.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)

	require.NoError(t, rt.Admin.RemoveProjectMember(ctx, res.Org.ID, p.ID, bob.ID, res.Admin.ID))
	projects, err = rt.Repo.ListProjects(ctx, nil, res.Org.ID, bob.ID)
	require.NoError(t, err)
	require.Empty(t, projects)

	require.NoError(t, rt.Admin.ArchiveProject(ctx, res.Org.ID, p.ID, res.Admin.ID))
	got, err := rt.Repo.GetProject(ctx, nil, res.Org.ID, p.ID)
	require.NoError(t, err)
	require.Equal(t, "archived", got.Status)
	var nf engine.NotFoundError
	require.ErrorAs(t, rt.Admin.ArchiveProject(ctx, res.Org.ID, "missing", res.Admin.ID), &nf)

	evs, err := rt.Repo.LatestEvents(ctx, nil, repo.EventFilters{OrgID: res.Org.ID, ProjectID: p.ID, Limit: 10})
	require.NoError(t, err)
	var types []string
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	require.Equal(t, []string{"project.archived", "project.member_removed", "project.member_added", "project.created"}, types)
}

func TestAPIKeyLifecycle(t *testing.T) {
	rt, res := openRuntime(t)
	ctx := context.Background()

	secret, key, err := rt.Admin.IssueAPIKey(ctx, res.Org.ID, res.Admin.ID, " ci ")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(secret, "trk_"))
	require.Equal(t, "ci", key.Name)
	require.NotEqual(t, secret, key.KeyHash)

	stored, err := rt.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	require.NoError(t, err)
	actor, err := app.ActorForMember(ctx, rt.Repo, stored.OrgID, stored.UserID)
	require.NoError(t, err)
	require.Equal(t, engine.Actor{UserID: res.Admin.ID, OrgID: res.Org.ID, SuperAdmin: true}, actor)

	keys, err := rt.Admin.APIKeys(ctx, res.Org.ID, res.Admin.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, rt.Admin.RevokeAPIKey(ctx, res.Org.ID, key.ID))
	var nf engine.NotFoundError
	require.ErrorAs(t, rt.Admin.RevokeAPIKey(ctx, res.Org.ID, key.ID), &nf)
	_, err = rt.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	require.ErrorIs(t, err, repo.ErrNotFound)

	_, _, err = rt.Admin.IssueAPIKey(ctx, res.Org.ID, "stranger", "x")
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestActorForMemberRejectsOutsiders(t *testing.T) {
	rt, res := openRuntime(t)
	_, err := app.ActorForMember(context.Background(), rt.Repo, res.Org.ID, "stranger")
	var unauth engine.UnauthorizedError
	require.ErrorAs(t, err, &unauth)
}
