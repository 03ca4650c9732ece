package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/app/orch"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/wire"
	"github.com/gorilla/websocket"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := orch.NewHub(orch.New(app.NewRegistry(), true), app.SimplePolicy{}, 0)
	go hub.Run(ctx)

	cfg := &config.Config{
		Mode:       "release",
		SendBuffer: 16,
		ReadLimit:  1 << 16,
		RateLimit:  config.RateLimit{Messages: 100, Interval: time.Second},
	}
	srv := httptest.NewServer(SetupRouter(ctx, cfg, hub))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wire.Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wire.Outbound
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestMissingPeerIDIsBadRequest(t *testing.T) {
	srv := startRelay(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?room=x", nil)
	if err == nil {
		t.Fatal("dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %+v", resp)
	}
}

func TestRelayOverSockets(t *testing.T) {
	srv := startRelay(t)
	a := dial(t, srv, "peerId=alice&room=lobby&displayName=Alice")
	if msg := read(t, a); msg.Type != wire.TypePresence || msg.PeerID != "alice" {
		t.Fatalf("alice snapshot %+v", msg)
	}
	b := dial(t, srv, "peerId=bob&room=lobby")
	if msg := read(t, b); msg.Type != wire.TypePresence || len(msg.Peers) != 2 || msg.PeerDisplayNames["alice"] != "Alice" {
		t.Fatalf("bob snapshot %+v", msg)
	}
	if msg := read(t, a); msg.PeerID != "bob" {
		t.Fatalf("alice should see bob join: %+v", msg)
	}

	for i := 1; i <= 3; i++ {
		frame := map[string]any{"type": "signal", "to": "bob", "data": map[string]int{"seq": i}}
		if err := a.WriteJSON(frame); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i <= 3; i++ {
		msg := read(t, b)
		var data struct{ Seq int }
		_ = json.Unmarshal(msg.Data, &data)
		if msg.From != "alice" || data.Seq != i {
			t.Fatalf("out of order: %+v", msg)
		}
	}

	if err := a.WriteMessage(websocket.TextMessage, []byte("{bad")); err != nil {
		t.Fatal(err)
	}
	if msg := read(t, a); msg.Type != wire.TypeError {
		t.Fatalf("want error, got %+v", msg)
	}

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rooms RoomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms.Rooms) != 1 || rooms.Rooms[0].Name != "lobby" || len(rooms.Rooms[0].Members) != 2 {
		t.Fatalf("rooms %+v", rooms)
	}
}

func TestHostConflictCloseCode(t *testing.T) {
	srv := startRelay(t)
	h1 := dial(t, srv, "peerId=h1&room=meet&host=1")
	read(t, h1)

	h2 := dial(t, srv, "peerId=h2&room=meet&host=true")
	msg := read(t, h2)
	if msg.Action != wire.ActionHostBlocked {
		t.Fatalf("got %+v", msg)
	}
	_ = h2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := h2.ReadMessage()
	if !websocket.IsCloseError(err, orch.CloseHostConflict) {
		t.Fatalf("want close %d, got %v", orch.CloseHostConflict, err)
	}
}

func TestHealth(t *testing.T) {
	srv := startRelay(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
