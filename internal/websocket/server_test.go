package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/svirmi/webdesk/internal/config"
	"github.com/svirmi/webdesk/internal/protocol"
	"github.com/svirmi/webdesk/internal/status"
	"github.com/svirmi/webdesk/internal/storage"
	"github.com/svirmi/webdesk/internal/view"
)

type fakeSource struct {
	*status.Publisher
	reconnects atomic.Int32
}

func (f *fakeSource) OnStatusChange(fn status.Listener) func() {
	return f.Subscribe(fn)
}

func (f *fakeSource) ForceReconnect() {
	f.reconnects.Add(1)
}

func testConfig() *config.Config {
	return &config.Config{
		WSPort:          ":0",
		WriteTimeout:    time.Second,
		ReadTimeout:     time.Second,
		PingInterval:    time.Second,
		PongWait:        2 * time.Second,
		MaxConnections:  4,
		MaxMessageSize:  4096,
		BufferSize:      32,
		SequenceStep:    time.Millisecond,
		IndicatorCorner: "bottom-right",
	}
}

type testEnv struct {
	srv    *httptest.Server
	server *Server
	hub    *Hub
	source *fakeSource
	store  *storage.SQLiteStore
	cancel context.CancelFunc
}

func newTestEnv(t *testing.T, initial status.Snapshot) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() err=%v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() err=%v", err)
	}

	cfg := testConfig()
	source := &fakeSource{Publisher: status.NewPublisher(16, initial)}
	hub := NewHub(cfg.MaxConnections, cfg.BufferSize)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	server := NewServer(cfg, hub, source, store, nil)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, server: server, hub: hub, source: source, store: store, cancel: cancel}
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (e *testEnv) do(t *testing.T, method, path, body string) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-User-ID", "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, status.Disconnected())
	code, body := env.get(t, "/health")
	if code != http.StatusOK || body != "OK" {
		t.Fatalf("GET /health = %d %q", code, body)
	}
}

func TestServer_Connection(t *testing.T) {
	env := newTestEnv(t, status.Reconnecting(3, "socket closed"))

	code, body := env.get(t, "/api/connection")
	if code != http.StatusOK {
		t.Fatalf("GET /api/connection = %d", code)
	}

	var resp connectionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Snapshot.IsReconnecting || resp.Snapshot.ReconnectAttempts != 3 {
		t.Errorf("Snapshot = %+v", resp.Snapshot)
	}
	if resp.Panel.Text != "Reconnecting... (3/10)" {
		t.Errorf("Panel.Text = %q", resp.Panel.Text)
	}
	if !resp.Indicator.Visible || resp.Indicator.Corner != view.BottomRight {
		t.Errorf("Indicator = %+v", resp.Indicator)
	}
}

func TestServer_Reconnect(t *testing.T) {
	env := newTestEnv(t, status.Failed(10, "refused"))

	if code := env.do(t, http.MethodPost, "/api/connection/reconnect", ""); code != http.StatusAccepted {
		t.Fatalf("POST reconnect = %d", code)
	}
	if env.source.reconnects.Load() != 1 {
		t.Fatalf("ForceReconnect calls = %d", env.source.reconnects.Load())
	}

	if code := env.do(t, http.MethodGet, "/api/connection/reconnect", ""); code != http.StatusMethodNotAllowed {
		t.Errorf("GET reconnect = %d, expected 405", code)
	}
}

func TestServer_PanelAndIndicator(t *testing.T) {
	env := newTestEnv(t, status.Connected(status.Milliseconds(18)))

	_, body := env.get(t, "/api/connection/panel")
	if !strings.Contains(body, "Connected") || !strings.Contains(body, "18ms") {
		t.Errorf("panel = %s", body)
	}

	_, body = env.get(t, "/api/connection/panel?compact=true")
	if !strings.Contains(body, "compact") || !strings.Contains(body, `title="Connected (18ms)"`) {
		t.Errorf("compact panel = %s", body)
	}

	_, body = env.get(t, "/api/connection/indicator")
	if strings.TrimSpace(body) != "" {
		t.Errorf("indicator should be hidden while connected, got %s", body)
	}

	env.source.Publish(status.Disconnected())
	_, body = env.get(t, "/api/connection/indicator?corner=top-left")
	if !strings.Contains(body, "corner-top-left") || !strings.Contains(body, "Disconnected") {
		t.Errorf("indicator = %s", body)
	}

	if env.source.SubscriberCount() != 0 {
		t.Errorf("request-scoped views leaked %d subscriptions", env.source.SubscriberCount())
	}
}

func TestServer_Settings(t *testing.T) {
	env := newTestEnv(t, status.Disconnected())

	if code := env.do(t, http.MethodGet, "/api/settings/indicator_corner", ""); code != http.StatusNotFound {
		t.Fatalf("GET missing setting = %d", code)
	}
	if code := env.do(t, http.MethodPut, "/api/settings/indicator_corner", `{"value":"middle"}`); code != http.StatusBadRequest {
		t.Fatalf("PUT invalid corner = %d", code)
	}
	if code := env.do(t, http.MethodPut, "/api/settings/indicator_corner", `{"value":"top-right"}`); code != http.StatusOK {
		t.Fatalf("PUT corner = %d", code)
	}
	if code := env.do(t, http.MethodPut, "/api/settings/status_compact", `not json`); code != http.StatusBadRequest {
		t.Fatalf("PUT bad body = %d", code)
	}

	_, body := env.get(t, "/api/connection/indicator?user=alice")
	if !strings.Contains(body, "corner-top-right") {
		t.Errorf("indicator should use stored corner, got %s", body)
	}

	_, body = env.get(t, "/api/connection/indicator")
	if !strings.Contains(body, "corner-bottom-right") {
		t.Errorf("other users keep the default corner, got %s", body)
	}
}

func TestServer_History(t *testing.T) {
	env := newTestEnv(t, status.Disconnected())
	ctx := context.Background()
	env.store.RecordSnapshot(ctx, status.Reconnecting(1, "closed"))
	env.store.RecordSnapshot(ctx, status.Connected(nil))

	code, body := env.get(t, "/api/connection/history?limit=1")
	if code != http.StatusOK {
		t.Fatalf("GET history = %d", code)
	}
	var events []storage.ConnectionEvent
	if err := json.Unmarshal([]byte(body), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].State != status.StateConnected {
		t.Errorf("events = %+v", events)
	}

	if code, _ := env.get(t, "/api/connection/history?limit=abc"); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", code)
	}
}

// readUntil reads frames until one of msgType arrives that satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if msg.Type == msgType && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func TestServer_WebSocketSession(t *testing.T) {
	env := newTestEnv(t, status.Connected(nil))

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, protocol.TypePanel, nil)
	readUntil(t, conn, protocol.TypeSequence, func(p json.RawMessage) bool {
		return strings.Contains(string(p), `"done":true`)
	})

	// Panel and indicator each hold their own subscription.
	if n := env.source.SubscriberCount(); n != 2 {
		t.Fatalf("SubscriberCount = %d, expected 2", n)
	}

	env.source.Publish(status.Reconnecting(3, "socket closed"))
	payload := readUntil(t, conn, protocol.TypeIndicator, func(p json.RawMessage) bool {
		return strings.Contains(string(p), `"visible":true`)
	})
	if !strings.Contains(string(payload), "3/10") {
		t.Errorf("indicator payload = %s", payload)
	}

	env.source.Publish(status.Failed(10, "refused"))
	readUntil(t, conn, protocol.TypePanel, func(p json.RawMessage) bool {
		return strings.Contains(string(p), `"show_reconnect":true`)
	})

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reconnect"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, protocol.TypePong, nil)
	if env.source.reconnects.Load() != 1 {
		t.Errorf("ForceReconnect calls = %d, expected 1", env.source.reconnects.Load())
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":1}`))
	readUntil(t, conn, protocol.TypeError, nil)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.source.SubscriberCount() != 0 || env.hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not released: subscribers=%d clients=%d",
				env.source.SubscriberCount(), env.hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_ShutdownSequence(t *testing.T) {
	env := newTestEnv(t, status.Connected(nil))

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readUntil(t, conn, protocol.TypePanel, nil)

	go env.server.Shutdown(context.Background())

	readUntil(t, conn, protocol.TypeSequence, func(p json.RawMessage) bool {
		return strings.Contains(string(p), `"sequence":"shutdown"`)
	})
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, status.Connected(nil))

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, protocol.TypePanel, nil)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, protocol.TypePong, nil)
	env.source.Publish(status.Reconnecting(1, "closed"))

	var m Metrics
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body := env.get(t, "/metrics")
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m.Publisher != nil && m.Publisher.Delivered >= 2 && len(m.Sessions) == 1 && m.Sessions[0].MessagesSent > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics never settled: %+v", m)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if m.ActiveConnections != 1 || m.TotalConnections != 1 {
		t.Errorf("connections = %d/%d", m.ActiveConnections, m.TotalConnections)
	}
	if m.Publisher.SubscriberCount != 2 || m.Publisher.Published != 1 || m.Publisher.LastPublishTime.IsZero() {
		t.Errorf("Publisher = %+v", m.Publisher)
	}

	session := m.Sessions[0]
	if session.UserID != defaultUserID || session.MessagesReceived != 1 || session.BytesSent == 0 {
		t.Errorf("session = %+v", session)
	}
	if !m.Connection.IsReconnecting {
		t.Errorf("Connection = %+v", m.Connection)
	}
}

func TestServer_RejectsWhenHubStopped(t *testing.T) {
	env := newTestEnv(t, status.Connected(nil))
	env.cancel()
	<-env.hub.done

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("ReadMessage() err=%v, expected try-again-later close", err)
	}
	if n := env.source.SubscriberCount(); n != 0 {
		t.Errorf("rejected session holds %d subscriptions", n)
	}
}
