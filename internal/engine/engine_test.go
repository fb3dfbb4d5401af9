package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"taskroom/internal/config"
	"taskroom/internal/db"
	"taskroom/internal/domain"
	"taskroom/internal/engine"
	"taskroom/internal/engine/auth"
	"taskroom/internal/events"
	"taskroom/internal/migrate"
)

// clock advances a millisecond on every read so rows never share a timestamp.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
	// Actors in org "acme". alice created project "web"; bob is a member;
	// carol belongs to the org only; root is a super admin.
	Alice, Bob, Carol, Root engine.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, nil)
	eng.Now = clk.Now
	env := testEnv{Engine: eng, Ctx: context.Background(), Clock: clk}

	seedOrg(t, env, "acme")
	env.Alice = seedUser(t, env, "acme", "alice", domain.RoleMember)
	env.Bob = seedUser(t, env, "acme", "bob", domain.RoleMember)
	env.Carol = seedUser(t, env, "acme", "carol", domain.RoleMember)
	env.Root = seedUser(t, env, "acme", "root", domain.RoleSuperAdmin)
	seedProject(t, env, "acme", "web", env.Alice.UserID, env.Bob.UserID)
	return env
}

func seedOrg(t *testing.T, env testEnv, id string) {
	t.Helper()
	now := domain.FormatTime(env.Clock.Now())
	if err := env.Engine.Repo.InsertOrg(env.Ctx, nil, domain.Org{ID: id, Name: id, CreatedAt: now}); err != nil {
		t.Fatalf("insert org: %v", err)
	}
}

func seedUser(t *testing.T, env testEnv, orgID, username, role string) engine.Actor {
	t.Helper()
	now := domain.FormatTime(env.Clock.Now())
	u := domain.User{ID: "u-" + username, Username: username, CreatedAt: now}
	if err := env.Engine.Repo.InsertUser(env.Ctx, nil, u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := env.Engine.Repo.UpsertOrgMember(env.Ctx, nil, domain.OrgMember{OrgID: orgID, UserID: u.ID, Role: role, CreatedAt: now}); err != nil {
		t.Fatalf("insert member: %v", err)
	}
	return engine.Actor{UserID: u.ID, OrgID: orgID, SuperAdmin: role == domain.RoleSuperAdmin}
}

func seedProject(t *testing.T, env testEnv, orgID, id string, members ...string) {
	t.Helper()
	now := domain.FormatTime(env.Clock.Now())
	p := domain.Project{OrgID: orgID, ID: id, Name: id, Status: "active", CreatedAt: now}
	if err := env.Engine.Repo.InsertProject(env.Ctx, nil, p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	for _, m := range members {
		if err := env.Engine.Repo.AddProjectMember(env.Ctx, nil, orgID, id, m, now); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
}

func createTask(t *testing.T, env testEnv, actor engine.Actor, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, actor, engine.CreateTaskInput{
		ProjectID: "web",
		Title:     title,
		Priority:  domain.PriorityMedium,
		Status:    domain.StatusOpen,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func requireForbidden(t *testing.T, err error) {
	t.Helper()
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe), "expected forbidden, got %v", err)
}

func requireValidation(t *testing.T, err error) {
	t.Helper()
	var ve engine.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.CreateTaskInput{ProjectID: "web", Title: "  ", Priority: domain.PriorityLow, Status: domain.StatusOpen})
	requireValidation(t, err)
	_, err = env.Engine.CreateTask(env.Ctx, env.Alice, engine.CreateTaskInput{ProjectID: "web", Title: "x", Priority: "SOON", Status: domain.StatusOpen})
	requireValidation(t, err)
	_, err = env.Engine.CreateTask(env.Ctx, engine.Actor{OrgID: "acme"}, engine.CreateTaskInput{ProjectID: "web", Title: "x"})
	var ue engine.UnauthorizedError
	require.True(t, errors.As(err, &ue))

	_, err = env.Engine.CreateTask(env.Ctx, env.Carol, engine.CreateTaskInput{ProjectID: "web", Title: "x", Priority: domain.PriorityLow, Status: domain.StatusOpen})
	requireForbidden(t, err)

	due := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.CreateTaskInput{
		ProjectID: "web", Title: " Write docs ", Priority: domain.PriorityHigh, Status: domain.StatusBlocked, DueAt: &due,
	})
	require.NoError(t, err)
	require.Equal(t, "Write docs", task.Title)
	require.Equal(t, env.Alice.UserID, task.CreatedBy)
	require.Equal(t, domain.StatusBlocked, task.Status)
	require.NotNil(t, task.DueAt)
	require.Equal(t, domain.FormatTime(due), *task.DueAt)

	log, err := env.Engine.StatusLog(env.Ctx, env.Alice, task.ID)
	require.NoError(t, err)
	require.Empty(t, log)
}

func TestCloseTaskOnlyByCreator(t *testing.T) {
	env := newTestEnv(t)
	for _, from := range []domain.TaskStatus{domain.StatusOpen, domain.StatusInProgress, domain.StatusBlocked} {
		task := createTask(t, env, env.Alice, "task "+string(from))
		_, err := env.Engine.AssignUsers(env.Ctx, env.Alice, task.ID, []string{env.Bob.UserID})
		require.NoError(t, err)
		if from != domain.StatusOpen {
			_, err = env.Engine.UpdateTaskStatus(env.Ctx, env.Bob, task.ID, from)
			require.NoError(t, err)
		}
		for _, target := range []domain.TaskStatus{domain.StatusDone, domain.StatusCanceled} {
			_, err = env.Engine.CloseTask(env.Ctx, env.Bob, task.ID, target)
			requireForbidden(t, err)
			_, err = env.Engine.CloseTask(env.Ctx, env.Root, task.ID, target)
			requireForbidden(t, err)
			_, err = env.Engine.TransitionTask(env.Ctx, env.Bob, task.ID, target)
			requireForbidden(t, err)
		}
		got, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
		require.NoError(t, err)
		require.Equal(t, from, got.Status)

		closed, err := env.Engine.CloseTask(env.Ctx, env.Alice, task.ID, domain.StatusCanceled)
		require.NoError(t, err)
		require.Equal(t, domain.StatusCanceled, closed.Status)
	}

	task := createTask(t, env, env.Alice, "bad target")
	_, err := env.Engine.CloseTask(env.Ctx, env.Alice, task.ID, domain.StatusBlocked)
	requireValidation(t, err)
}

func TestClosureRequests(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, env.Alice, "ship it")

	first, err := env.Engine.RequestClosure(env.Ctx, env.Bob, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ClosurePending, first.Status)
	again, err := env.Engine.RequestClosure(env.Ctx, env.Bob, task.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	_, err = env.Engine.RequestClosure(env.Ctx, env.Carol, task.ID)
	requireForbidden(t, err)

	_, err = env.Engine.CloseTask(env.Ctx, env.Alice, task.ID, domain.StatusDone)
	require.NoError(t, err)
	reqs, err := env.Engine.ClosureRequests(env.Ctx, env.Alice, task.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, domain.ClosurePending, reqs[0].Status)

	_, err = env.Engine.AcknowledgeClosureRequest(env.Ctx, env.Bob, task.ID, first.ID)
	requireForbidden(t, err)
	acked, err := env.Engine.AcknowledgeClosureRequest(env.Ctx, env.Alice, task.ID, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ClosureAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	require.Equal(t, env.Alice.UserID, *acked.AcknowledgedBy)

	// A new request is allowed once the previous one is acknowledged.
	next, err := env.Engine.RequestClosure(env.Ctx, env.Bob, task.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, next.ID)

	other := createTask(t, env, env.Alice, "other")
	_, err = env.Engine.AcknowledgeClosureRequest(env.Ctx, env.Alice, other.ID, next.ID)
	var nf engine.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestAssignUsersIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, env.Alice, "pair")

	ids, err := env.Engine.AssignUsers(env.Ctx, env.Alice, task.ID, []string{env.Bob.UserID, env.Bob.UserID})
	require.NoError(t, err)
	require.Equal(t, []string{env.Bob.UserID}, ids)
	ids, err = env.Engine.AssignUsers(env.Ctx, env.Alice, task.ID, []string{env.Bob.UserID, env.Carol.UserID})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{env.Bob.UserID, env.Carol.UserID}, ids)

	_, err = env.Engine.AssignUsers(env.Ctx, env.Alice, task.ID, []string{"u-ghost"})
	requireValidation(t, err)

	evts, err := env.Engine.Events(env.Ctx, env.Alice, engine.EventQuery{ProjectID: "web", Type: events.TaskAssigned})
	require.NoError(t, err)
	require.Len(t, evts, 2)
}

func TestStatusLogTracksEveryChange(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, env.Alice, "track")
	steps := []domain.TaskStatus{domain.StatusInProgress, domain.StatusBlocked, domain.StatusBlocked, domain.StatusInProgress, domain.StatusDone}
	for _, s := range steps {
		_, err := env.Engine.TransitionTask(env.Ctx, env.Alice, task.ID, s)
		require.NoError(t, err)
	}
	log, err := env.Engine.StatusLog(env.Ctx, env.Bob, task.ID)
	require.NoError(t, err)
	require.Len(t, log, 4)
	prev := domain.StatusOpen
	for _, entry := range log {
		require.Equal(t, prev, entry.FromStatus)
		require.Equal(t, env.Alice.UserID, entry.ChangedBy)
		prev = entry.ToStatus
	}
	got, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	require.NoError(t, err)
	require.Equal(t, log[len(log)-1].ToStatus, got.Status)
}

func TestConcurrentStatusUpdatesKeepLogConsistent(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, env.Alice, "busy")
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		status := []domain.TaskStatus{domain.StatusInProgress, domain.StatusBlocked, domain.StatusOpen}[i%3]
		actor := env.Alice
		if i%2 == 1 {
			actor = env.Bob
		}
		g.Go(func() error {
			_, err := env.Engine.UpdateTaskStatus(env.Ctx, actor, task.ID, status)
			var ce engine.ConflictError
			if errors.As(err, &ce) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	log, err := env.Engine.StatusLog(env.Ctx, env.Alice, task.ID)
	require.NoError(t, err)
	got, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	require.NoError(t, err)
	if len(log) == 0 {
		require.Equal(t, domain.StatusOpen, got.Status)
		return
	}
	require.Equal(t, log[len(log)-1].ToStatus, got.Status)
	for i := 1; i < len(log); i++ {
		require.Equal(t, log[i-1].ToStatus, log[i].FromStatus)
	}
}

func TestReopenFollowsProjectSetting(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, env.Alice, "done once")
	_, err := env.Engine.CloseTask(env.Ctx, env.Alice, task.ID, domain.StatusDone)
	require.NoError(t, err)

	reopened, err := env.Engine.TransitionTask(env.Ctx, env.Bob, task.ID, domain.StatusOpen)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, reopened.Status)
	_, err = env.Engine.CloseTask(env.Ctx, env.Alice, task.ID, domain.StatusDone)
	require.NoError(t, err)

	cfg := config.Default("web")
	no := false
	cfg.Tasks.AllowReopen = &no
	require.NoError(t, env.Engine.ImportProjectConfig(env.Ctx, env.Alice, "web", cfg))
	_, err = env.Engine.TransitionTask(env.Ctx, env.Alice, task.ID, domain.StatusInProgress)
	requireValidation(t, err)

	// The low-level update does not apply the policy.
	got, err := env.Engine.UpdateTaskStatus(env.Ctx, env.Alice, task.ID, domain.StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, got.Status)
}

func TestTasksByStatusVisibility(t *testing.T) {
	env := newTestEnv(t)
	mine := createTask(t, env, env.Alice, "mine")
	createTask(t, env, env.Alice, "not mine")
	_, err := env.Engine.AssignUsers(env.Ctx, env.Alice, mine.ID, []string{env.Bob.UserID})
	require.NoError(t, err)
	_, err = env.Engine.TransitionTask(env.Ctx, env.Bob, mine.ID, domain.StatusInProgress)
	require.NoError(t, err)

	board, err := env.Engine.TasksByStatus(env.Ctx, env.Bob, "web")
	require.NoError(t, err)
	require.Empty(t, board.Open)
	require.Len(t, board.InProgress, 1)
	require.Equal(t, mine.ID, board.InProgress[0].ID)

	board, err = env.Engine.TasksByStatus(env.Ctx, env.Root, "web")
	require.NoError(t, err)
	require.Len(t, board.Open, 1)
	require.Len(t, board.InProgress, 1)
	require.NotNil(t, board.Canceled)

	rep, err := env.Engine.ProjectStatus(env.Ctx, env.Root, "web")
	require.NoError(t, err)
	require.Equal(t, 1, rep.TaskCounts[domain.StatusOpen])
	require.Equal(t, 0, rep.TaskCounts[domain.StatusDone])
	require.False(t, rep.HasRoom)

	_, err = env.Engine.TasksByStatus(env.Ctx, env.Carol, "web")
	requireForbidden(t, err)
}

func TestOtherOrgGetsNotFound(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env, env.Alice, "private")
	seedOrg(t, env, "globex")
	outsider := seedUser(t, env, "globex", "hank", domain.RoleSuperAdmin)

	_, err := env.Engine.GetTask(env.Ctx, outsider, task.ID)
	var nf engine.NotFoundError
	require.True(t, errors.As(err, &nf))
	_, err = env.Engine.GetOrCreateRoom(env.Ctx, outsider, "web")
	require.True(t, errors.As(err, &nf))
}

func TestGetOrCreateRoomConcurrently(t *testing.T) {
	env := newTestEnv(t)
	ids := make([]string, 8)
	var g errgroup.Group
	for i := range ids {
		actor := env.Alice
		if i%2 == 1 {
			actor = env.Bob
		}
		g.Go(func() error {
			room, err := env.Engine.GetOrCreateRoom(env.Ctx, actor, "web")
			ids[i] = room.ID
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	evts, err := env.Engine.Events(env.Ctx, env.Alice, engine.EventQuery{ProjectID: "web", Type: events.RoomCreated})
	require.NoError(t, err)
	require.Len(t, evts, 1)

	_, err = env.Engine.GetOrCreateRoom(env.Ctx, env.Carol, "web")
	requireForbidden(t, err)
}

func TestConcurrentSendsToNewProject(t *testing.T) {
	env := newTestEnv(t)
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		actor := env.Alice
		if i%2 == 1 {
			actor = env.Bob
		}
		g.Go(func() error {
			room, err := env.Engine.GetOrCreateRoom(env.Ctx, actor, "web")
			if err != nil {
				return err
			}
			_, err = env.Engine.SendMessage(env.Ctx, actor, room.ID, fmt.Sprintf("hello %d", i))
			return err
		})
	}
	require.NoError(t, g.Wait())

	room, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Root, "web")
	require.NoError(t, err)
	msgs, err := env.Engine.Messages(env.Ctx, env.Root, room.ID, engine.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	for i := 1; i < len(msgs); i++ {
		require.True(t, msgs[i-1].CreatedAt <= msgs[i].CreatedAt)
	}
}

func TestSendMessageRecordsMentions(t *testing.T) {
	env := newTestEnv(t)
	room, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Alice, "web")
	require.NoError(t, err)

	_, err = env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, "   ")
	requireValidation(t, err)
	_, err = env.Engine.SendMessage(env.Ctx, env.Carol, room.ID, "hi")
	requireForbidden(t, err)

	msg, err := env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, "@alice @bob @carol @bob ping root@example.com @nobody")
	require.NoError(t, err)
	ms, err := env.Engine.MessageMentions(env.Ctx, env.Bob, msg.ID)
	require.NoError(t, err)
	var mentioned []string
	for _, m := range ms {
		mentioned = append(mentioned, m.MentionedUserID)
		require.Nil(t, m.ReadAt)
	}
	require.ElementsMatch(t, []string{env.Bob.UserID, env.Carol.UserID}, mentioned)

	views, err := env.Engine.Messages(env.Ctx, env.Bob, room.ID, engine.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].MentionsMe)
	require.False(t, views[0].MentionRead)
	require.False(t, views[0].Read)

	views, err = env.Engine.Messages(env.Ctx, env.Alice, room.ID, engine.ListMessagesOptions{})
	require.NoError(t, err)
	require.False(t, views[0].MentionsMe)
	require.True(t, views[0].Read)
}

func TestReadCursorNeverMovesBack(t *testing.T) {
	env := newTestEnv(t)
	room, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Alice, "web")
	require.NoError(t, err)
	_, err = env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, "first")
	require.NoError(t, err)

	require.NoError(t, env.Engine.MarkAsRead(env.Ctx, env.Bob, room.ID))
	cur, ok, err := env.Engine.ReadCursor(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.True(t, ok)

	env.Clock.Set(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, env.Engine.MarkAsRead(env.Ctx, env.Bob, room.ID))
	after, _, err := env.Engine.ReadCursor(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Equal(t, cur.LastReadAt, after.LastReadAt)

	_, ok, err = env.Engine.ReadCursor(env.Ctx, env.Alice, room.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnreadCountIgnoresOwnMessages(t *testing.T) {
	env := newTestEnv(t)
	room, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Alice, "web")
	require.NoError(t, err)
	for _, c := range []string{"one", "two"} {
		_, err = env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, c)
		require.NoError(t, err)
	}
	_, err = env.Engine.SendMessage(env.Ctx, env.Bob, room.ID, "mine")
	require.NoError(t, err)

	n, err := env.Engine.UnreadCount(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = env.Engine.UnreadCount(env.Ctx, env.Alice, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, env.Engine.MarkAsRead(env.Ctx, env.Bob, room.ID))
	n, err = env.Engine.UnreadCount(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, "three")
	require.NoError(t, err)
	n, err = env.Engine.UnreadCount(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMentionBadges(t *testing.T) {
	env := newTestEnv(t)
	seedProject(t, env, "acme", "api", env.Alice.UserID, env.Bob.UserID)
	web, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Alice, "web")
	require.NoError(t, err)
	api, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Alice, "api")
	require.NoError(t, err)

	var first domain.ChatMessage
	for i, c := range []string{"@bob look", "@bob and again"} {
		m, err := env.Engine.SendMessage(env.Ctx, env.Alice, web.ID, c)
		require.NoError(t, err)
		if i == 0 {
			first = m
		}
	}
	_, err = env.Engine.SendMessage(env.Ctx, env.Alice, api.ID, "@bob @carol deploy?")
	require.NoError(t, err)

	badges, err := env.Engine.MentionsByProject(env.Ctx, env.Bob)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, b := range badges {
		counts[b.ProjectID] = b.MentionCount
	}
	require.Equal(t, map[string]int{"web": 2, "api": 1}, counts)

	// carol is mentioned but is not a member of the project.
	badges, err = env.Engine.MentionsByProject(env.Ctx, env.Carol)
	require.NoError(t, err)
	require.Empty(t, badges)

	n, err := env.Engine.MarkMentionsAsRead(env.Ctx, env.Bob, first.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = env.Engine.MarkMentionsAsRead(env.Ctx, env.Bob, first.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = env.Engine.MarkAllRoomMentionsAsRead(env.Ctx, env.Bob, web.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	badges, err = env.Engine.MentionsByProject(env.Ctx, env.Bob)
	require.NoError(t, err)
	require.Len(t, badges, 1)
	require.Equal(t, "api", badges[0].ProjectID)

	// Posting in a room clears the author's own mentions there.
	_, err = env.Engine.SendMessage(env.Ctx, env.Bob, api.ID, "on it")
	require.NoError(t, err)
	badges, err = env.Engine.MentionsByProject(env.Ctx, env.Bob)
	require.NoError(t, err)
	require.Empty(t, badges)
}

func TestViewRoomMarksLatestPageRead(t *testing.T) {
	env := newTestEnv(t)
	room, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Alice, "web")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, fmt.Sprintf("@bob msg %d", i))
		require.NoError(t, err)
	}

	page, err := env.Engine.ViewRoom(env.Ctx, env.Bob, room.ID, engine.ListMessagesOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "@bob msg 3", page[0].Content)
	require.False(t, page[1].Read)

	n, err := env.Engine.UnreadCount(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	older, err := env.Engine.ViewRoom(env.Ctx, env.Bob, room.ID, engine.ListMessagesOptions{
		Limit: 2, BeforeCreatedAt: page[0].CreatedAt, BeforeID: page[0].ID,
	})
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, "@bob msg 1", older[0].Content)
	require.True(t, older[0].Read)
	require.True(t, older[0].MentionRead)

	cfg := config.Default("web")
	off := false
	cfg.Chat.MarkReadOnView = &off
	require.NoError(t, env.Engine.ImportProjectConfig(env.Ctx, env.Alice, "web", cfg))
	_, err = env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, "later")
	require.NoError(t, err)
	_, err = env.Engine.ViewRoom(env.Ctx, env.Bob, room.ID, engine.ListMessagesOptions{})
	require.NoError(t, err)
	n, err = env.Engine.UnreadCount(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestViewRoomLeavesLaterMessagesUnread(t *testing.T) {
	env := newTestEnv(t)
	room, err := env.Engine.GetOrCreateRoom(env.Ctx, env.Alice, "web")
	require.NoError(t, err)

	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	env.Clock.Set(base)
	seen, err := env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, "@bob first")
	require.NoError(t, err)

	// Bob opens the room well after the first message was posted.
	env.Clock.Set(base.Add(time.Minute))
	page, err := env.Engine.ViewRoom(env.Ctx, env.Bob, room.ID, engine.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, page, 1)
	cur, ok, err := env.Engine.ReadCursor(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, seen.CreatedAt, cur.LastReadAt)

	// A message stamped before the visit but not part of the page, as when a
	// send commits between listing and marking.
	env.Clock.Set(base.Add(30 * time.Second))
	_, err = env.Engine.SendMessage(env.Ctx, env.Alice, room.ID, "@bob second")
	require.NoError(t, err)

	n, err := env.Engine.UnreadCount(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	badges, err := env.Engine.MentionsByProject(env.Ctx, env.Bob)
	require.NoError(t, err)
	require.Equal(t, []domain.ProjectMentions{{ProjectID: "web", ProjectName: "web", MentionCount: 1}}, badges)

	env.Clock.Set(base.Add(2 * time.Minute))
	page, err = env.Engine.ViewRoom(env.Ctx, env.Bob, room.ID, engine.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.False(t, page[1].Read)
	n, err = env.Engine.UnreadCount(env.Ctx, env.Bob, room.ID)
	require.NoError(t, err)
	require.Zero(t, n)
	badges, err = env.Engine.MentionsByProject(env.Ctx, env.Bob)
	require.NoError(t, err)
	require.Empty(t, badges)
}

func TestEventsSinceCursor(t *testing.T) {
	env := newTestEnv(t)
	createTask(t, env, env.Alice, "a")
	createTask(t, env, env.Alice, "b")

	all, err := env.Engine.EventsSince(env.Ctx, env.Alice, "web", "", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, events.TaskCreated, all[0].Type)

	rest, err := env.Engine.EventsSince(env.Ctx, env.Alice, "web", all[0].TS, all[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, all[1].ID, rest[0].ID)

	_, err = env.Engine.Events(env.Ctx, env.Alice, engine.EventQuery{})
	requireForbidden(t, err)
	orgWide, err := env.Engine.Events(env.Ctx, env.Root, engine.EventQuery{})
	require.NoError(t, err)
	require.Len(t, orgWide, 2)
}
