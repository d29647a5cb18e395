package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/presence"
	"github.com/cwrk-planet/chat-service/internal/registry"
	"github.com/cwrk-planet/chat-service/internal/service"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
)

type fakeOnline struct {
	ids []int64
	err error
}

func (f fakeOnline) Snapshot(context.Context) ([]int64, error) { return f.ids, f.err }

type fakeReady bool

func (f fakeReady) Serving() bool { return bool(f) }

func newTestRouter(online OnlineLister, ready Readiness) (http.Handler, *service.MemoryHistory) {
	history := service.NewMemoryHistory()
	chat := service.NewChatService(history, 0)
	wsServer := ws.NewServer(registry.New(), chat, nil, nil, ws.Options{})
	h := NewHandler(online, chat, ready)
	return NewRouter(h, wsServer, RouterOptions{AllowedOrigins: []string{"http://localhost:5173"}}), history
}

func do(t *testing.T, h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOnlineUsers(t *testing.T) {
	r, _ := newTestRouter(fakeOnline{ids: []int64{3, 5}}, fakeReady(true))

	rec := do(t, r, http.MethodGet, "/online-users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online_users":[3,5]}`, rec.Body.String())
}

func TestOnlineUsers_EmptyIsArray(t *testing.T) {
	r, _ := newTestRouter(fakeOnline{}, fakeReady(true))

	rec := do(t, r, http.MethodGet, "/online-users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online_users":[]}`, rec.Body.String())
}

func TestOnlineUsers_StoreDown(t *testing.T) {
	err := fmt.Errorf("%w: dial tcp: refused", presence.ErrStoreUnavailable)
	r, _ := newTestRouter(fakeOnline{err: err}, fakeReady(true))

	rec := do(t, r, http.MethodGet, "/online-users", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "presence unavailable", body.Error.Message)
}

func TestChatHistory(t *testing.T) {
	r, history := newTestRouter(fakeOnline{}, fakeReady(true))
	ctx := context.Background()
	_, err := history.Append(ctx, 4, 1, "first")
	require.NoError(t, err)
	_, err = history.Append(ctx, 4, 2, "second")
	require.NoError(t, err)

	rec := do(t, r, http.MethodGet, "/rooms/4/chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "first", resp.Items[0].Content)
	assert.Equal(t, int64(2), resp.Items[1].SenderID)

	rec = do(t, r, http.MethodGet, "/rooms/nope/chat", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	up, _ := newTestRouter(fakeOnline{}, fakeReady(true))
	assert.Equal(t, http.StatusOK, do(t, up, http.MethodGet, "/healthz", nil).Code)

	down, _ := newTestRouter(fakeOnline{}, fakeReady(false))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, http.MethodGet, "/healthz", nil).Code)
}

func TestRouter_CORS(t *testing.T) {
	r, _ := newTestRouter(fakeOnline{}, fakeReady(true))

	rec := do(t, r, http.MethodOptions, "/online-users", map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": "GET",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")

	rec = do(t, r, http.MethodGet, "/online-users", map[string]string{"Origin": "http://localhost:5173"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, r, http.MethodGet, "/online-users", map[string]string{"Origin": "http://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fmt.Errorf("wrap: %w", presence.ErrStoreUnavailable)))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidID))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
