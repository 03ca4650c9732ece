package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestChatFrame(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	data, err := encodeChat("Ada", "hello there", now)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeChat(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.From != "Ada" || got.Text != "hello there" || got.SentAt != now.UnixMilli() {
		t.Fatalf("decoded %+v", got)
	}
}

func TestDecodeChatRejectsOtherFrames(t *testing.T) {
	payload, _ := msgpack.Marshal(map[string]int{"x": 1})
	data, err := msgpack.Marshal(frame{Type: "ping", Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeChat(data); !errors.Is(err, errNotChat) {
		t.Fatalf("err = %v, want errNotChat", err)
	}
	if _, err := decodeChat([]byte("plain text")); err == nil {
		t.Fatal("expected error for non-msgpack data")
	}
}
