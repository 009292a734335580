package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pulse/internal/jobs"
	"github.com/sells-group/pulse/internal/model"
)

func dialProgress(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/pulse/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.ProgressEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev model.ProgressEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestProgressSocket_StreamsLiveEvents(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	release := make(chan struct{})
	id := e.registry.Submit(model.JobKindTrain, "dc1", nil, func(ctx context.Context, emit jobs.Emit) error {
		<-release
		for i := 1; i <= 2; i++ {
			emit(model.ProgressEvent{Type: model.EventEpoch, Epoch: i, TotalEpochs: 2, Loss: model.F(0.5)})
		}
		return nil
	})

	conn := dialProgress(t, srv, id)
	require.Eventually(t, func() bool { return e.registry.Listening(id) }, 5*time.Second, 5*time.Millisecond)
	close(release)

	first := readEvent(t, conn)
	assert.Equal(t, model.EventEpoch, first.Type)
	assert.Equal(t, 1, first.Epoch)
	assert.Equal(t, 2, readEvent(t, conn).Epoch)

	last := readEvent(t, conn)
	assert.Equal(t, model.EventStatus, last.Type)
	assert.Equal(t, "completed", last.Status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestProgressSocket_FinishedJobReportsStatus(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	id := e.registry.Submit(model.JobKindTrain, "dc1", nil, func(context.Context, jobs.Emit) error {
		return model.Invalid("features missing")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.registry.Wait(ctx))

	conn := dialProgress(t, srv, id)
	ev := readEvent(t, conn)
	assert.Equal(t, model.EventStatus, ev.Type)
	assert.Equal(t, "failed", ev.Status)
	assert.Equal(t, "features missing", ev.Error)
}

func TestProgressSocket_UnknownJob(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	conn := dialProgress(t, srv, "missing")
	ev := readEvent(t, conn)
	assert.Equal(t, "unknown", ev.Status)
	assert.False(t, e.registry.Listening("missing"))
}

func TestProgressSocket_DisconnectDetaches(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	release := make(chan struct{})
	id := e.registry.Submit(model.JobKindTrain, "dc1", nil, func(context.Context, jobs.Emit) error {
		<-release
		return nil
	})
	defer close(release)

	conn := dialProgress(t, srv, id)
	require.Eventually(t, func() bool { return e.registry.Listening(id) }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !e.registry.Listening(id) }, 5*time.Second, 5*time.Millisecond)
}
