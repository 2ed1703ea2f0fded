package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	read    []uint64
	deleted []uint64
	userIDs []uint64
	err     error
}

func (d *fakeDispatcher) MarkMessageAsRead(_ context.Context, userID, messageID uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.read = append(d.read, messageID)
	d.userIDs = append(d.userIDs, userID)
	return d.err
}

func (d *fakeDispatcher) DeleteMessage(_ context.Context, userID, messageID uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, messageID)
	d.userIDs = append(d.userIDs, userID)
	return d.err
}

type fakeNotifier struct {
	mu           sync.Mutex
	connected    []uint64
	disconnected []uint64
}

func (n *fakeNotifier) UserConnected(_ context.Context, userID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, userID)
}

func (n *fakeNotifier) UserDisconnected(_ context.Context, userID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, userID)
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newHubServer 起一个只做升级与泵循环的测试端点，连接身份取自 user 查询参数
func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseUint(r.URL.Query().Get("user"), 10, 64)
		require.NoError(t, err)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := NewClient(userID, conn, h)
		go client.WritePump()
		client.ReadPump()
	}))
}

func dialHub(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func joinGroup(t *testing.T, conn *websocket.Conn, userID uint64) {
	t.Helper()
	payload, err := json.Marshal(&InvocationPayload{UserID: userID})
	require.NoError(t, err)
	raw, err := json.Marshal(&Invocation{Action: ActionJoinUserGroup, Data: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func waitGroupSize(t *testing.T, h *Hub, userID uint64, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		got := len(h.groups[userID])
		h.mu.RUnlock()
		if got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("用户 %d 组内连接数未达到 %d", userID, want)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env := &struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(raw, env))
	return env
}

func TestHubJoinAndFanout(t *testing.T) {
	h := NewHub()
	notifier := &fakeNotifier{}
	h.Bind(&fakeDispatcher{}, notifier)

	srv := newHubServer(t, h)
	defer srv.Close()

	// 同一用户两端连接，组内全部收到同一事件
	conn1 := dialHub(t, srv, "7")
	defer conn1.Close()
	conn2 := dialHub(t, srv, "7")
	defer conn2.Close()

	joinGroup(t, conn1, 7)
	joinGroup(t, conn2, 7)
	waitGroupSize(t, h, 7, 2)

	raw, err := json.Marshal(&Envelope{Event: EventReceiveMessage, Data: map[string]uint64{"id": 1}})
	require.NoError(t, err)
	h.deliverLocal(7, raw)

	env1 := readEnvelope(t, conn1)
	env2 := readEnvelope(t, conn2)
	assert.Equal(t, EventReceiveMessage, env1.Event)
	assert.Equal(t, EventReceiveMessage, env2.Event)

	notifier.mu.Lock()
	assert.Equal(t, []uint64{7, 7}, notifier.connected)
	notifier.mu.Unlock()
}

func TestHubInvocationRejectsForeignUserID(t *testing.T) {
	h := NewHub()
	dispatcher := &fakeDispatcher{}
	h.Bind(dispatcher, &fakeNotifier{})

	srv := newHubServer(t, h)
	defer srv.Close()

	conn := dialHub(t, srv, "7")
	defer conn.Close()
	joinGroup(t, conn, 7)
	waitGroupSize(t, h, 7, 1)

	// 冒用他人 userId 的调用只收到 InvokeError，不触达业务层
	payload, err := json.Marshal(&InvocationPayload{UserID: 99, MessageID: 5})
	require.NoError(t, err)
	raw, err := json.Marshal(&Invocation{Action: ActionMarkMessageAsRead, Data: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	env := readEnvelope(t, conn)
	assert.Equal(t, EventInvokeError, env.Event)

	dispatcher.mu.Lock()
	assert.Empty(t, dispatcher.read)
	dispatcher.mu.Unlock()
}

func TestHubInvocationUsesConnectionIdentity(t *testing.T) {
	h := NewHub()
	dispatcher := &fakeDispatcher{}
	h.Bind(dispatcher, &fakeNotifier{})

	srv := newHubServer(t, h)
	defer srv.Close()

	conn := dialHub(t, srv, "7")
	defer conn.Close()
	joinGroup(t, conn, 7)
	waitGroupSize(t, h, 7, 1)

	payload, err := json.Marshal(&InvocationPayload{UserID: 7, MessageID: 42})
	require.NoError(t, err)
	raw, err := json.Marshal(&Invocation{Action: ActionMarkMessageAsRead, Data: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.Lock()
		done := len(dispatcher.read) == 1
		dispatcher.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	dispatcher.mu.Lock()
	require.Len(t, dispatcher.read, 1)
	assert.Equal(t, uint64(42), dispatcher.read[0])
	assert.Equal(t, uint64(7), dispatcher.userIDs[0])
	dispatcher.mu.Unlock()
}

func TestHubLeaveAndDropNotifyPresence(t *testing.T) {
	h := NewHub()
	notifier := &fakeNotifier{}
	h.Bind(&fakeDispatcher{}, notifier)

	srv := newHubServer(t, h)
	defer srv.Close()

	conn := dialHub(t, srv, "7")
	joinGroup(t, conn, 7)
	waitGroupSize(t, h, 7, 1)

	// 直接断开传输层，drop 路径应补发下线通知
	require.NoError(t, conn.Close())
	waitGroupSize(t, h, 7, 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		notifier.mu.Lock()
		done := len(notifier.disconnected) == 1
		notifier.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	notifier.mu.Lock()
	assert.Equal(t, []uint64{7}, notifier.disconnected)
	notifier.mu.Unlock()
}

func TestHubDeliverSkipsUnjoinedUsers(t *testing.T) {
	h := NewHub()
	h.Bind(&fakeDispatcher{}, &fakeNotifier{})

	// 没有任何连接时投递不恐慌、不出错
	h.deliverLocal(12345, []byte(`{"event":"ReceiveMessage","data":null}`))
}
