package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"recipes/internal/domain"
	"recipes/internal/middleware"
	"recipes/internal/registry"
	"recipes/internal/relay"
)

type received struct {
	id     string
	raw    string
	locale string
}

type recordingAcceptor struct {
	mu   sync.Mutex
	got  []received
	seen chan struct{}
}

func newRecordingAcceptor() *recordingAcceptor {
	return &recordingAcceptor{seen: make(chan struct{}, 16)}
}

func (a *recordingAcceptor) Accept(ctx context.Context, id string, raw []byte) error {
	a.mu.Lock()
	a.got = append(a.got, received{id: id, raw: string(raw), locale: middleware.LocaleFromContext(ctx)})
	a.mu.Unlock()
	a.seen <- struct{}{}
	return nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func newTestServer(t *testing.T, origins []string) (*httptest.Server, *Hub, *registry.Memory, *recordingAcceptor) {
	t.Helper()
	hub := NewHub()
	reg := registry.NewMemory()
	acc := newRecordingAcceptor()
	h := NewHandler(HandlerOptions{
		Hub:            hub,
		Registry:       reg,
		Acceptor:       acc,
		GatewayID:      "gw-1",
		AllowedOrigins: origins,
		NewID:          func() string { return "conn-1" },
	})
	srv := httptest.NewServer(middleware.I18N("es", nil)(h))
	t.Cleanup(srv.Close)
	return srv, hub, reg, acc
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func TestHandlerRegistersRoutesAndUnregisters(t *testing.T) {
	srv, hub, reg, acc := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?locale=en"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var meta domain.Metadata
	eventually(t, func() bool {
		m, ok, _ := reg.Lookup(context.Background(), "conn-1")
		meta = m
		return ok
	})
	if meta.GatewayID != "gw-1" || meta.Locale != "en" || meta.ConnectedAt.IsZero() {
		t.Fatalf("unexpected metadata: %#v", meta)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"message","ingredients":"rice"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-acc.seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("acceptor not called")
	}
	acc.mu.Lock()
	got := acc.got[0]
	acc.mu.Unlock()
	if got.id != "conn-1" || got.locale != "en" || !strings.Contains(got.raw, "rice") {
		t.Fatalf("unexpected accepted message: %#v", got)
	}

	payload, _ := json.Marshal(domain.InfoMessage("hola"))
	if err := hub.Push(context.Background(), domain.Connection{ID: "conn-1"}, payload); err != nil {
		t.Fatalf("Push: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("client got %s, want %s", data, payload)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	eventually(t, func() bool {
		_, ok, _ := reg.Lookup(context.Background(), "conn-1")
		return !ok && hub.Len() == 0
	})
	err = hub.Push(context.Background(), domain.Connection{ID: "conn-1"}, payload)
	if !errors.Is(err, domain.ErrConnectionGone) {
		t.Fatalf("Push after close = %v, want ErrConnectionGone", err)
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	srv, _, reg, _ := newTestServer(t, []string{"https://app.example.com"})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %v, want 403", resp)
	}
	if reg.Len() != 0 {
		t.Fatalf("rejected connection was registered")
	}

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestHubPushUnknownAndCancelled(t *testing.T) {
	hub := NewHub()
	err := hub.Push(context.Background(), domain.Connection{ID: "missing"}, []byte("{}"))
	if !errors.Is(err, domain.ErrConnectionGone) {
		t.Fatalf("Push unknown = %v, want ErrConnectionGone", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := hub.Push(ctx, domain.Connection{ID: "missing"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Push cancelled = %v, want context.Canceled", err)
	}
}

func TestHubCloseAll(t *testing.T) {
	srv, hub, reg, _ := newTestServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	eventually(t, func() bool { return hub.Len() == 1 })

	hub.CloseAll()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("client read = %v, want going-away close", err)
	}
	eventually(t, func() bool { return reg.Len() == 0 })
}

func TestHubPushGivesUpWhileSocketBusy(t *testing.T) {
	hub := NewHub()
	c := hub.add("conn-1", nil)
	// Another writer, such as a ping, holds the socket.
	c.writeLock <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := hub.Push(ctx, domain.Connection{ID: "conn-1"}, []byte("{}"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Push waited %s for a busy socket", elapsed)
	}
}

func TestHandlerRefreshesRedisEntryWhileOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := registry.NewRedis(rdb, registry.WithTTL(time.Hour))
	hub := NewHub()
	h := NewHandler(HandlerOptions{
		Hub:        hub,
		Registry:   reg,
		Acceptor:   newRecordingAcceptor(),
		GatewayID:  "gw-1",
		NewID:      func() string { return "conn-1" },
		PingPeriod: 10 * time.Millisecond,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	const key = "recipes:conn:conn-1"
	eventually(t, func() bool { return mr.Exists(key) })

	// One second left on the entry; keepalive must push it back out.
	mr.FastForward(time.Hour - time.Second)
	eventually(t, func() bool { return mr.TTL(key) > time.Minute })
	mr.FastForward(30 * time.Second)
	if _, ok, err := reg.Lookup(context.Background(), "conn-1"); err != nil || !ok {
		t.Fatalf("Lookup after original TTL = %v, %v; want live entry", ok, err)
	}

	// An entry lost while the socket is open is written again.
	mr.Del(key)
	eventually(t, func() bool { return mr.Exists(key) })
	meta, ok, _ := reg.Lookup(context.Background(), "conn-1")
	if !ok || meta.GatewayID != "gw-1" {
		t.Fatalf("restored entry = %#v, %v", meta, ok)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	eventually(t, func() bool { return !mr.Exists(key) && hub.Len() == 0 })
}

type fakeLocal struct {
	err     error
	id      string
	payload string
}

func (f *fakeLocal) Push(_ context.Context, conn domain.Connection, payload []byte) error {
	f.id = conn.ID
	f.payload = string(payload)
	return f.err
}

func replyOf(t *testing.T, l *PushListener, data []byte) relay.PushReply {
	t.Helper()
	replies := make(chan relay.PushReply, 1)
	l.dispatch(data, func(r relay.PushReply) { replies <- r })
	select {
	case r := <-replies:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply for push")
		return relay.PushReply{}
	}
}

func TestPushListenerDispatch(t *testing.T) {
	envelope, _ := json.Marshal(relay.PushEnvelope{ConnectionID: "conn-9", Payload: json.RawMessage(`{"type":"info","message":"hi"}`)})

	tests := []struct {
		name   string
		data   []byte
		err    error
		status string
	}{
		{name: "delivered", data: envelope, status: relay.StatusOK},
		{name: "socket gone", data: envelope, err: domain.ErrConnectionGone, status: relay.StatusGone},
		{name: "write failed", data: envelope, err: errors.New("broken pipe"), status: relay.StatusError},
		{name: "malformed", data: []byte("nope"), status: relay.StatusError},
		{name: "missing id", data: []byte(`{"payload":{}}`), status: relay.StatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			local := &fakeLocal{err: tc.err}
			l := NewPushListener(nil, "recipes", "gw-1", local, nil)
			reply := replyOf(t, l, tc.data)
			if reply.Status != tc.status {
				t.Fatalf("Status = %q, want %q", reply.Status, tc.status)
			}
			if tc.status == relay.StatusOK && (local.id != "conn-9" || local.payload != `{"type":"info","message":"hi"}`) {
				t.Fatalf("local push got id=%q payload=%q", local.id, local.payload)
			}
		})
	}
}

// gatedLocal blocks pushes to one connection until released and records the
// order payloads were written in.
type gatedLocal struct {
	blocked string
	release chan struct{}

	mu      sync.Mutex
	written []string
}

func (g *gatedLocal) Push(ctx context.Context, conn domain.Connection, payload []byte) error {
	if conn.ID == g.blocked {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	g.written = append(g.written, conn.ID+":"+string(payload))
	g.mu.Unlock()
	return nil
}

func pushEnvelope(id, payload string) []byte {
	data, _ := json.Marshal(relay.PushEnvelope{ConnectionID: id, Payload: json.RawMessage(payload)})
	return data
}

func TestPushListenerStalledSocketDoesNotDelayOthers(t *testing.T) {
	local := &gatedLocal{blocked: "slow", release: make(chan struct{})}
	l := NewPushListener(nil, "recipes", "gw-1", local, nil)

	slow := make(chan relay.PushReply, 1)
	l.dispatch(pushEnvelope("slow", `1`), func(r relay.PushReply) { slow <- r })

	start := time.Now()
	if reply := replyOf(t, l, pushEnvelope("fast", `2`)); reply.Status != relay.StatusOK {
		t.Fatalf("fast push = %#v", reply)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("fast push waited %s behind the stalled socket", elapsed)
	}
	select {
	case r := <-slow:
		t.Fatalf("stalled push answered early: %#v", r)
	default:
	}

	close(local.release)
	select {
	case r := <-slow:
		if r.Status != relay.StatusOK {
			t.Fatalf("slow push = %#v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stalled push never answered")
	}
}

func TestPushListenerKeepsPerConnectionOrder(t *testing.T) {
	local := &gatedLocal{blocked: "conn-1", release: make(chan struct{})}
	l := NewPushListener(nil, "recipes", "gw-1", local, nil)

	replies := make(chan relay.PushReply, 3)
	for _, payload := range []string{`"a"`, `"b"`, `"c"`} {
		l.dispatch(pushEnvelope("conn-1", payload), func(r relay.PushReply) { replies <- r })
	}
	close(local.release)
	for i := 0; i < 3; i++ {
		select {
		case r := <-replies:
			if r.Status != relay.StatusOK {
				t.Fatalf("reply %d = %#v", i, r)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing reply %d", i)
		}
	}
	local.mu.Lock()
	written := strings.Join(local.written, ",")
	local.mu.Unlock()
	if want := `conn-1:"a",conn-1:"b",conn-1:"c"`; written != want {
		t.Fatalf("written = %s, want %s", written, want)
	}
	eventually(t, func() bool {
		l.lanesMu.Lock()
		defer l.lanesMu.Unlock()
		return len(l.lanes) == 0
	})
}

func TestPushListenerSubject(t *testing.T) {
	l := NewPushListener(nil, "recipes", "gw-7", &fakeLocal{}, nil)
	if l.subject != "recipes.gateway.gw-7.push" {
		t.Fatalf("subject = %q", l.subject)
	}
}
