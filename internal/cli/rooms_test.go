package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/meshcall/internal/domain"
)

func TestFetchRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rooms":[{"name":"standup","members":["a","b"],"waiting":["c"],"hosts":["a"]}]}`))
	}))
	defer srv.Close()

	rooms, err := fetchRooms(context.Background(), srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].Name != "standup" || len(rooms[0].Members) != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}

	view := roomsView(rooms)
	for _, s := range []string{"standup", "a, b", "c"} {
		if !strings.Contains(view, s) {
			t.Errorf("view missing %q:\n%s", s, view)
		}
	}
}

func TestFetchRoomsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fetchRooms(context.Background(), srv.Client(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "hub closed") {
		t.Fatalf("err = %v", err)
	}
}

func TestRoomsViewEmpty(t *testing.T) {
	if got := roomsView(nil); !strings.Contains(got, "no rooms") {
		t.Fatalf("got %q", got)
	}
	if got := joinIDs([]domain.PeerID{}); got != "-" {
		t.Fatalf("joinIDs = %q", got)
	}
}
