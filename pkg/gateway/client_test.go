// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/aiku/guildbridge/pkg/bridge"
	"github.com/aiku/guildbridge/pkg/catalog"
	"github.com/aiku/guildbridge/pkg/classify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest keeps idle keep-alive conns until server close finishes.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []any
	origins  []string
	notify   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (s *recordingSink) Process(raw any, originID string) bridge.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, raw)
	s.origins = append(s.origins, originID)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return bridge.Result{}
}

func (s *recordingSink) await(t *testing.T, n int) []any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s.mu.Lock()
		if len(s.payloads) >= n {
			out := append([]any(nil), s.payloads...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d payloads", n)
		}
	}
}

var upgrader = websocket.Upgrader{}

// feedServer serves each connection by sending the given lines, then
// closing. sessions records the X-Session-ID header per connection.
func feedServer(t *testing.T, lines []string, sessions chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessions != nil {
			select {
			case sessions <- r.Header.Get("X-Session-ID"):
			default:
			}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, line := range lines {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// Wait for the client to acknowledge the close.
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_DeliversTaggedPayloads(t *testing.T) {
	sessions := make(chan string, 8)
	srv := feedServer(t, []string{
		"Guild > Steve: hello",
		`{"text":"Guild > ","extra":[{"text":"Alice: hi"}]}`,
	}, sessions)

	sink := newRecordingSink()
	client := NewClient(bridge.GatewayConfig{Origin: "main", URL: srv.URL}, sink, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	got := sink.await(t, 2)
	if text, ok := got[0].([]byte); !ok || string(text) != "Guild > Steve: hello" {
		t.Errorf("payload 0: %#v", got[0])
	}
	// JSON object frames arrive decoded as component trees.
	tree, ok := got[1].(map[string]any)
	if !ok {
		t.Fatalf("payload 1: got %#v, want decoded tree", got[1])
	}
	if tree["text"] != "Guild > " {
		t.Errorf("tree text: %#v", tree["text"])
	}
	sink.mu.Lock()
	for _, origin := range sink.origins {
		if origin != "main" {
			t.Errorf("origin: got %q, want main", origin)
		}
	}
	sink.mu.Unlock()

	session := <-sessions
	if len(session) != 16 {
		t.Errorf("session nonce length: got %d, want 16", len(session))
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run: got %v, want context.Canceled", err)
	}
}

func TestClient_ReconnectsAfterClose(t *testing.T) {
	srv := feedServer(t, []string{"line one"}, nil)

	sink := newRecordingSink()
	client := NewClient(bridge.GatewayConfig{Origin: "main", URL: srv.URL}, sink, zerolog.Nop())
	// Keep the test fast; production backoff starts at a second.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	// The server closes after each delivery, so seeing the line more than
	// once proves a reconnect happened.
	sink.await(t, 2)

	cancel()
	<-done
}

func TestClient_DialFailureRetries(t *testing.T) {
	srv := feedServer(t, []string{"recovered"}, nil)
	srvURL := srv.URL

	sink := newRecordingSink()
	// Point at a closed port first; Run must keep retrying, not exit.
	client := NewClient(bridge.GatewayConfig{Origin: "main", URL: "http://127.0.0.1:1"}, sink, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Run(ctx); err != context.DeadlineExceeded {
		t.Errorf("Run: got %v, want context.DeadlineExceeded", err)
	}

	// A fresh client against the live server works immediately.
	client2 := NewClient(bridge.GatewayConfig{Origin: "main", URL: srvURL}, sink, zerolog.Nop())
	ctx2, cancel2 := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client2.Run(ctx2) }()
	sink.await(t, 1)
	cancel2()
	<-done
}

func TestNewPool(t *testing.T) {
	sink := newRecordingSink()
	if _, err := NewPool(nil, sink, zerolog.Nop()); err == nil {
		t.Error("expected error for empty gateway list")
	}
	pool, err := NewPool([]bridge.GatewayConfig{
		{Origin: "a", URL: "http://gw-a"},
		{Origin: "b", URL: "http://gw-b"},
	}, sink, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(pool.Clients()) != 2 {
		t.Errorf("clients: got %d, want 2", len(pool.Clients()))
	}
}

func TestDecodeFrame(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		wantTree bool
	}{
		{name: "plain text", payload: "Guild > Steve: gg", wantTree: false},
		{name: "json object", payload: `{"text":"Guild > Steve: gg"}`, wantTree: true},
		{name: "json with leading space", payload: `  {"text":"hi"}`, wantTree: true},
		{name: "braces but not json", payload: "{not json at all", wantTree: false},
		{name: "json array stays text", payload: `["a","b"]`, wantTree: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, isTree := decodeFrame([]byte(tc.payload)).(map[string]any)
			if isTree != tc.wantTree {
				t.Errorf("decodeFrame(%q): tree=%v, want %v", tc.payload, isTree, tc.wantTree)
			}
		})
	}
}

func TestClient_RichTextFrameClassifies(t *testing.T) {
	srv := feedServer(t, []string{
		`{"text":"Guild > ","extra":[{"text":"Steve"},": gg"]}`,
	}, nil)

	log := zerolog.Nop()
	cfg := &bridge.Config{
		BotName:       "GuildBridgeBot",
		Dialect:       "standard",
		EventCooldown: time.Second,
		DedupWindow:   5 * time.Second,
	}
	cat := catalog.New(log)
	co := bridge.NewCoordinator(cfg,
		classify.NewEventClassifier(cat, cfg.EventCooldown, log),
		classify.NewChatClassifier(cat, log),
		bridge.NewStreams(log),
		log,
	)
	messages, cancelMessages := co.Streams().SubscribeMessages()
	defer cancelMessages()

	client := NewClient(bridge.GatewayConfig{Origin: "main", URL: srv.URL}, co, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case msg := <-messages:
		if msg.Kind != classify.KindGuildChat {
			t.Errorf("kind: got %s, want guild_chat", msg.Kind)
		}
		if msg.Username != "Steve" || msg.Body != "gg" {
			t.Errorf("fields: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("rich-text frame never classified")
	}

	cancel()
	<-done
}

func TestHTTPToWS(t *testing.T) {
	cases := map[string]string{
		"http://gw.example":  "ws://gw.example",
		"https://gw.example": "wss://gw.example",
		"ws://gw.example":    "ws://gw.example",
	}
	for in, want := range cases {
		if got := httpToWS(in); got != want {
			t.Errorf("httpToWS(%q) = %q, want %q", in, got, want)
		}
	}
}
