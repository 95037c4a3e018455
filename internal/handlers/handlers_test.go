package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/allocator"
	"github.com/worthlabs/worth/internal/hub"
	"github.com/worthlabs/worth/internal/models"
	"github.com/worthlabs/worth/internal/store/filestore"
	"github.com/worthlabs/worth/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *filestore.FileStore, *hub.Hub) {
	t.Helper()
	log := zap.NewNop().Sugar()
	fs, err := filestore.New(t.TempDir(), allocator.New(), log)
	require.NoError(t, err)
	h := hub.New(hub.NewBroadcaster(65536, log), log)
	srv := httptest.NewServer(New(fs, h, log).Router())
	t.Cleanup(srv.Close)
	return srv, fs, h
}

func postRegister(t *testing.T, srv *httptest.Server, username, password string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRegister(t *testing.T) {
	srv, fs, _ := newTestServer(t)

	resp := postRegister(t, srv, "alice", "password1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "user alice registered", body["message"])
	assert.Equal(t, models.Offline, fs.UserStatuses()["alice"])

	resp = postRegister(t, srv, "alice", "password1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postRegister(t, srv, "Alice Smith", "password1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "charset")

	resp = postRegister(t, srv, "alice", "short")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "password length")

	raw, err := http.Post(srv.URL+"/register", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode, "malformed body")
}

func TestNotificationsRequiresLogin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := postRegister(t, srv, "alice", "password1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	r, err := http.Get(srv.URL + "/notifications?username=ghost")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)

	r, err = http.Get(srv.URL + "/notifications?username=alice")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
}

func TestNotificationsPush(t *testing.T) {
	srv, fs, h := newTestServer(t)
	resp := postRegister(t, srv, "alice", "password1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, fs.Login("alice", "password1"))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/notifications?username=alice"
	conn, r, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if r != nil {
		r.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Registered("alice") },
		2*time.Second, 10*time.Millisecond)

	h.NotifyPresence("bob", models.Online)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev ws.Event
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, ws.EventUserStatus, ev.Type)
	assert.Equal(t, "bob", ev.Username)
	assert.Equal(t, string(models.Online), ev.Status)

	h.NotifyProjectAdded("alice", "proj1", "239.0.0.0:30000")
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, ws.EventProjectAdded, ev.Type)
	assert.Equal(t, "proj1", ev.Project)
	assert.Equal(t, "239.0.0.0:30000", ev.ChatAddress)

	// Closing the socket unregisters the push channel.
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !h.Registered("alice") },
		2*time.Second, 10*time.Millisecond)
}

func TestNotificationsResubscribeSurvivesStaleTeardown(t *testing.T) {
	srv, fs, h := newTestServer(t)
	resp := postRegister(t, srv, "alice", "password1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, fs.Login("alice", "password1"))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/notifications?username=alice"

	stale, r, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if r != nil {
		r.Body.Close()
	}
	require.Eventually(t, func() bool { return h.Registered("alice") },
		2*time.Second, 10*time.Millisecond)

	// Reconnect: the new subscription replaces the first in the hub.
	fresh, r, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if r != nil {
		r.Body.Close()
	}
	defer fresh.Close()

	// The old connection's teardown must not drop the live registration.
	require.NoError(t, stale.Close())
	time.Sleep(200 * time.Millisecond)
	assert.True(t, h.Registered("alice"))

	h.NotifyPresence("bob", models.Online)
	require.NoError(t, fresh.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev ws.Event
	_, payload, err := fresh.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, ws.EventUserStatus, ev.Type)
	assert.Equal(t, "bob", ev.Username)
}
