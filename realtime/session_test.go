package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altobase/altobase-go/auth"
	"github.com/altobase/altobase-go/internal/watch"
)

// fakeSessionWatcher stands in for the auth client's status stream.
type fakeSessionWatcher struct {
	status *watch.Value[auth.SessionStatus]
}

func newFakeSessionWatcher() *fakeSessionWatcher {
	return &fakeSessionWatcher{status: watch.New[auth.SessionStatus](auth.NotAuthenticated{})}
}

func (f *fakeSessionWatcher) WatchStatus() (<-chan auth.SessionStatus, func()) {
	return f.status.Subscribe()
}

func (f *fakeSessionWatcher) authenticate(token string) {
	f.status.Set(auth.Authenticated{Session: auth.Session{AccessToken: token}})
}

func TestNewTokenPushedToJoinedChannels(t *testing.T) {
	server := newTestServer(t)
	session := newFakeSessionWatcher()
	c := newTestClient(t, server, func(cfg *Config) { cfg.Session = session })

	require.NoError(t, c.Connect(context.Background()))
	ch := c.Channel("room1")
	require.NoError(t, ch.Join(context.Background()))
	require.Eventually(t, func() bool { return ch.Status() == ChannelJoined },
		2*time.Second, 10*time.Millisecond)

	session.authenticate("tok-2")

	frame := server.await(t, "access_token", func(m Message) bool { return m.Event == EventAccessToken })
	assert.Equal(t, "realtime:room1", frame.Topic)
	assert.JSONEq(t, `{"access_token":"tok-2"}`, string(frame.Payload))

	// The connection itself is untouched by a token rotation.
	assert.Equal(t, Connected, c.Status())
	assert.Equal(t, 1, server.dialCount())
}

func TestSessionLossDisconnects(t *testing.T) {
	server := newTestServer(t)
	session := newFakeSessionWatcher()
	c := newTestClient(t, server, func(cfg *Config) { cfg.Session = session })

	require.NoError(t, c.Connect(context.Background()))

	session.authenticate("tok-1")
	require.Eventually(t, func() bool { return c.accessToken() == "tok-1" },
		2*time.Second, 10*time.Millisecond)

	session.status.Set(auth.NotAuthenticated{})
	require.Eventually(t, func() bool { return c.Status() == Disconnected },
		2*time.Second, 10*time.Millisecond)

	// Losing the session is an explicit disconnect, not a dropped socket:
	// the client must not dial again on its own.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, Disconnected, c.Status())
	assert.Equal(t, 1, server.dialCount())
}

func TestSessionLossKeepsConnectionWhenDisabled(t *testing.T) {
	server := newTestServer(t)
	session := newFakeSessionWatcher()
	disabled := false
	c := newTestClient(t, server, func(cfg *Config) {
		cfg.Session = session
		cfg.DisconnectOnSessionLoss = &disabled
	})

	require.NoError(t, c.Connect(context.Background()))
	session.authenticate("tok-1")
	require.Eventually(t, func() bool { return c.accessToken() == "tok-1" },
		2*time.Second, 10*time.Millisecond)

	session.status.Set(auth.NotAuthenticated{})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, Connected, c.Status())
}

func TestInitialNotAuthenticatedIsNotALoss(t *testing.T) {
	server := newTestServer(t)
	session := newFakeSessionWatcher()
	c := newTestClient(t, server, func(cfg *Config) { cfg.Session = session })

	// The watcher's primed NotAuthenticated must not tear down a connection
	// that was opened for anonymous access.
	require.NoError(t, c.Connect(context.Background()))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, Connected, c.Status())
}
