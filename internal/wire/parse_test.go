package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"signal", `{"type":"signal","to":"b","data":{"sdp":"x"}}`, nil},
		{"broadcast", `{"type":"broadcast","data":"hi"}`, nil},
		{"control", `{"type":"control","action":"admit","data":{"peerId":"w"}}`, nil},
		{"not json", `{"type":`, ErrMalformed},
		{"no type", `{"to":"b"}`, ErrMalformed},
		{"presence from client", `{"type":"presence"}`, ErrUnknownType},
		{"signal without target", `{"type":"signal","data":{}}`, ErrMissingTarget},
		{"control without action", `{"type":"control"}`, ErrMissingAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInbound([]byte(tt.raw))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignalDataIsOpaque(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"signal","to":"b","data":{"candidate":"c1","nested":[1,2]}}`))
	if err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(Signal("a", in.Data))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"signal","from":"a","data":{"candidate":"c1","nested":[1,2]}}`
	if string(out) != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}

func TestControlEncodesEmptyWaitingList(t *testing.T) {
	out, err := json.Marshal(Control(ServerSender, "r", ActionWaitingList, WaitingList{Waiting: []string{}}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"data":{"waiting":[]}`) {
		t.Fatalf("empty list must encode as []: %s", out)
	}
}

func TestDecodeRequiresData(t *testing.T) {
	var ref PeerRef
	if err := Decode(nil, &ref); !errors.Is(err, ErrMalformed) {
		t.Fatalf("got %v", err)
	}
	if err := Decode(json.RawMessage(`{"peerId":"x"}`), &ref); err != nil || ref.PeerID != "x" {
		t.Fatalf("got %v %+v", err, ref)
	}
}
