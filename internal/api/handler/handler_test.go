package handler_test

import (
	"alumnet/backend/internal/api/handler"
	"alumnet/backend/internal/chathub"
	"alumnet/backend/internal/messages"
	"alumnet/backend/internal/models"
	"alumnet/backend/internal/network"
	"alumnet/backend/internal/pubsub"
	"alumnet/backend/internal/retry"
	"alumnet/backend/internal/storage"
	"alumnet/backend/internal/storage/storagetest"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testAuth = handler.Auth{Secret: []byte("test-secret"), Issuer: "alumnet-test", TTL: time.Hour}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	r, _ := setupRouterWithStore(t)
	return r
}

func setupRouterWithStore(t *testing.T) (*gin.Engine, *storage.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storagetest.NewService(t)
	broker := pubsub.NewMemoryBroker()
	retryCfg := retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	hub := chathub.NewManagerService(broker, 16, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := handler.NewHandler(
		network.NewService(store, broker, retryCfg, zap.NewNop()),
		messages.NewService(store, broker, retryCfg, zap.NewNop()),
		hub, testAuth, zap.NewNop(),
	)
	r := gin.New()
	h.RegisterRoutes(r)
	return r, store
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := testAuth.IssueToken(userID)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, r http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["code"]
}

func TestAuthMiddleware(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodGet, "/api/connections/incoming", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/connections/incoming", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/connections/incoming?token="+token(t, "A"), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_ParseToken(t *testing.T) {
	tok, err := testAuth.IssueToken("A")
	require.NoError(t, err)

	sub, err := testAuth.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "A", sub)

	other := testAuth
	other.Issuer = "someone-else"
	_, err = other.ParseToken(tok)
	assert.ErrorIs(t, err, handler.ErrInvalidToken)

	wrongKey := testAuth
	wrongKey.Secret = []byte("other-secret")
	_, err = wrongKey.ParseToken(tok)
	assert.ErrorIs(t, err, handler.ErrInvalidToken)

	expired := testAuth
	expired.TTL = -time.Minute
	old, err := expired.IssueToken("A")
	require.NoError(t, err)
	_, err = testAuth.ParseToken(old)
	assert.ErrorIs(t, err, handler.ErrInvalidToken)
}

func TestConnectionLifecycle(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodPost, "/api/connections", "A", gin.H{"receiver_id": "B"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conn := decode[models.Connection](t, w)
	assert.Equal(t, models.ConnectionStatusPending, conn.Status)
	assert.Equal(t, "A", conn.SenderID)

	w = do(t, r, http.MethodPost, "/api/connections", "B", gin.H{"receiver_id": "A"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_active", errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/connections", "A", gin.H{"receiver_id": "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/connections", "A", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/connections/status/A", "B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending_incoming", decode[map[string]string](t, w)["status"])

	w = do(t, r, http.MethodGet, "/api/connections/incoming", "B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	incoming := decode[[]models.Connection](t, w)
	require.Len(t, incoming, 1)
	assert.Equal(t, conn.ID, incoming[0].ID)

	respondPath := "/api/connections/" + conn.ID + "/respond"
	w = do(t, r, http.MethodPost, respondPath, "A", gin.H{"decision": "accept"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_authorized", errorCode(t, w))

	w = do(t, r, http.MethodPost, respondPath, "B", gin.H{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/connections/missing/respond", "B", gin.H{"decision": "accept"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorCode(t, w))

	w = do(t, r, http.MethodPost, respondPath, "B", gin.H{"decision": "accept"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ConnectionStatusAccepted, decode[models.Connection](t, w).Status)

	w = do(t, r, http.MethodPost, respondPath, "B", gin.H{"decision": "reject"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, w))

	w = do(t, r, http.MethodGet, "/api/connections/accepted", "A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Connection](t, w), 1)

	w = do(t, r, http.MethodGet, "/api/connections/index", "A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ix struct {
		Statuses        map[string]string `json:"statuses"`
		IncomingPending int               `json:"incoming_pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ix))
	assert.Equal(t, map[string]string{"B": "connected"}, ix.Statuses)
	assert.Equal(t, 0, ix.IncomingPending)
}

func TestIndex_RefreshRebuildsFromStore(t *testing.T) {
	r, store := setupRouterWithStore(t)

	w := do(t, r, http.MethodGet, "/api/connections/status/A", "B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "none", decode[map[string]string](t, w)["status"])

	// Written by another instance whose event never arrived.
	_, err := store.CreateConnection(context.Background(), "A", "B")
	require.NoError(t, err)

	w = do(t, r, http.MethodGet, "/api/connections/status/A", "B", nil)
	assert.Equal(t, "none", decode[map[string]string](t, w)["status"])

	w = do(t, r, http.MethodGet, "/api/connections/status/A?refresh=1", "B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending_incoming", decode[map[string]string](t, w)["status"])

	w = do(t, r, http.MethodGet, "/api/connections/index?refresh=true", "A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ix struct {
		Statuses map[string]string `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ix))
	assert.Equal(t, map[string]string{"B": "pending_outgoing"}, ix.Statuses)
}

func TestMessages(t *testing.T) {
	r := setupRouter(t)
	w := do(t, r, http.MethodPost, "/api/connections", "A", gin.H{"receiver_id": "B"})
	require.Equal(t, http.StatusCreated, w.Code)
	conn := decode[models.Connection](t, w)
	messagesPath := "/api/connections/" + conn.ID + "/messages"

	w = do(t, r, http.MethodPost, messagesPath, "A", gin.H{"content": "too early"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_connected", errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/connections/"+conn.ID+"/respond", "B", gin.H{"decision": "accept"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, messagesPath, "A", gin.H{"content": "Hello"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Hello", decode[models.Message](t, w).Content)
	w = do(t, r, http.MethodPost, messagesPath, "B", gin.H{"content": "Hi"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, messagesPath, "A", gin.H{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_content", errorCode(t, w))

	w = do(t, r, http.MethodPost, messagesPath, "C", gin.H{"content": "hey"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_a_party", errorCode(t, w))

	w = do(t, r, http.MethodGet, messagesPath, "C", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodGet, messagesPath, "B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]models.Message](t, w)
	require.Len(t, history, 2)
	assert.Equal(t, "Hello", history[0].Content)
	assert.Equal(t, "Hi", history[1].Content)
}

func TestServeWebSocket(t *testing.T) {
	r := setupRouter(t)
	w := do(t, r, http.MethodPost, "/api/connections", "A", gin.H{"receiver_id": "B"})
	require.Equal(t, http.StatusCreated, w.Code)
	conn := decode[models.Connection](t, w)
	w = do(t, r, http.MethodPost, "/api/connections/"+conn.ID+"/respond", "B", gin.H{"decision": "accept"})
	require.Equal(t, http.StatusOK, w.Code)

	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/connections/" + conn.ID + "/ws?token="

	_, resp, err := websocket.DefaultDialer.Dial(base+token(t, "C"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(base+token(t, "B"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame models.ChatFrame
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, models.FrameHistory, frame.Type)

	w = do(t, r, http.MethodPost, "/api/connections/"+conn.ID+"/messages", "A", gin.H{"content": "Hello"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, models.FrameMessage, frame.Type)
	require.NotNil(t, frame.Message)
	assert.Equal(t, "Hello", frame.Message.Content)
}
