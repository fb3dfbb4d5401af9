package taskroomsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskroom/internal/app"
	"taskroom/internal/server"
	taskroomsdk "taskroom/sdk/go"
)

const secret = "sdk-secret"

type fixture struct {
	url     string
	clients map[string]*taskroomsdk.Client
	userIDs map[string]string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	rt, err := app.Open(app.Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	_, err = rt.Admin.Bootstrap(ctx, app.BootstrapOptions{OrgID: "acme", OrgName: "Acme", AdminUsername: "admin"})
	require.NoError(t, err)
	for _, name := range []string{"alice", "bob"} {
		_, err := rt.Admin.CreateUser(ctx, "acme", name, "", "")
		require.NoError(t, err)
	}
	alice, err := rt.Admin.Actor(ctx, "acme", "alice")
	require.NoError(t, err)
	bob, err := rt.Admin.Actor(ctx, "acme", "bob")
	require.NoError(t, err)
	_, err = rt.Admin.CreateProject(ctx, app.CreateProjectOptions{OrgID: "acme", ID: "web", Name: "Web", CreatorID: alice.UserID})
	require.NoError(t, err)
	require.NoError(t, rt.Admin.AddProjectMember(ctx, "acme", "web", bob.UserID, alice.UserID))

	handler, err := server.New(server.Config{Engine: rt.Engine, Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	f := fixture{
		url:     ts.URL + "/v1",
		clients: map[string]*taskroomsdk.Client{},
		userIDs: map[string]string{"alice": alice.UserID, "bob": bob.UserID},
	}
	bobKey, _, err := rt.Admin.IssueAPIKey(ctx, "acme", bob.UserID, "sdk")
	require.NoError(t, err)
	aliceToken, err := server.IssueToken(secret, alice, time.Hour)
	require.NoError(t, err)

	f.clients["alice"] = taskroomsdk.New(f.url)
	f.clients["alice"].BearerToken = aliceToken
	f.clients["bob"] = taskroomsdk.New(f.url)
	f.clients["bob"].APIKey = bobKey
	return f
}

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.clients["alice"], f.clients["bob"]

	task, err := alice.CreateTask(ctx, "web", taskroomsdk.CreateTaskInput{Title: "Ship it", Priority: "HIGH"})
	require.NoError(t, err)
	require.Equal(t, "OPEN", task.Status)

	board, err := bob.Board(ctx, "web")
	require.NoError(t, err)
	require.Empty(t, board.Open)
	require.NotNil(t, board.Done)

	_, err = alice.Assign(ctx, task.ID, f.userIDs["bob"])
	require.NoError(t, err)
	board, err = bob.Board(ctx, "web")
	require.NoError(t, err)
	require.Len(t, board.Tasks("OPEN"), 1)
	require.Equal(t, task.ID, board.Open[0].ID)

	_, err = bob.CloseTask(ctx, task.ID, "")
	require.True(t, taskroomsdk.IsStatus(err, http.StatusForbidden))
	var apiErr *taskroomsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "forbidden", apiErr.Code)

	req, err := bob.RequestClosure(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "PENDING", req.Status)
	acked, err := alice.AcknowledgeClosure(ctx, task.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, "ACKNOWLEDGED", acked.Status)

	closed, err := alice.CloseTask(ctx, task.ID, "")
	require.NoError(t, err)
	require.Equal(t, "DONE", closed.Status)
	changes, err := alice.StatusLog(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "DONE", changes[0].ToStatus)
}

func TestChatAndPollMentions(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	alice, bob := f.clients["alice"], f.clients["bob"]

	room, err := alice.Room(ctx, "web")
	require.NoError(t, err)
	_, err = alice.Send(ctx, room.ID, "hey @bob, take a look")
	require.NoError(t, err)

	unread, err := bob.Unread(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, unread.Unread)

	var seen []int
	err = bob.PollMentions(ctx, 20*time.Millisecond, func(m taskroomsdk.Mentions) error {
		seen = append(seen, m.Total)
		if m.Total == 0 {
			return context.Canceled
		}
		_, err := bob.MarkRoomMentionsRead(ctx, room.ID)
		return err
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []int{1, 0}, seen)

	page, err := bob.Messages(ctx, room.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.True(t, page.Items[0].MentionsMe)
	require.True(t, page.Items[0].MentionRead)

	unread, err = bob.Unread(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, 0, unread.Unread)
}

func TestUnauthorizedStopsPolling(t *testing.T) {
	f := newFixture(t)
	c := taskroomsdk.New(f.url)
	c.APIKey = "trk_bogus"
	err := c.PollMentions(context.Background(), time.Millisecond, func(taskroomsdk.Mentions) error { return nil })
	require.True(t, taskroomsdk.IsStatus(err, http.StatusUnauthorized))
}
