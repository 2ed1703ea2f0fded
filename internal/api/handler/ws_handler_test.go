package handler

import (
	"Atrium/internal/hub"
	"Atrium/internal/pkg/security"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct{}

func (s *stubDispatcher) MarkMessageAsRead(ctx context.Context, userID, messageID uint64) error {
	return nil
}

func (s *stubDispatcher) DeleteMessage(ctx context.Context, userID, messageID uint64) error {
	return nil
}

type stubNotifier struct {
	mu        sync.Mutex
	connected []uint64
}

func (s *stubNotifier) UserConnected(ctx context.Context, userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, userID)
}

func (s *stubNotifier) UserDisconnected(ctx context.Context, userID uint64) {}

func (s *stubNotifier) has(userID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.connected {
		if id == userID {
			return true
		}
	}
	return false
}

func newWsServer(t *testing.T) (*httptest.Server, *stubNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := hub.NewHub()
	notifier := &stubNotifier{}
	h.Bind(&stubDispatcher{}, notifier)
	router := gin.New()
	router.GET("/api/ws/connect", NewWsHandler(h).Connect)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, notifier
}

// 签发的 token 走查询串握手，入组身份取自 claims
func TestConnectAcceptsSignedToken(t *testing.T) {
	srv, notifier := newWsServer(t)

	token, err := security.GenerateToken(42, []string{"user"})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/connect?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	join, err := json.Marshal(&hub.Invocation{Action: hub.ActionJoinUserGroup})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	deadline := time.Now().Add(2 * time.Second)
	for !notifier.has(42) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, notifier.has(42))
}

func TestConnectRejectsMissingOrForgedToken(t *testing.T) {
	srv, notifier := newWsServer(t)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/connect"

	_, _, err := websocket.DefaultDialer.Dial(base, nil)
	assert.Error(t, err)

	token, err := security.GenerateToken(42, nil)
	require.NoError(t, err)
	_, _, err = websocket.DefaultDialer.Dial(base+"?token="+token+"x", nil)
	assert.Error(t, err)

	assert.False(t, notifier.has(42))
}
