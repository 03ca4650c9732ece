package cli

import (
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const frameChat = "chat"

var errNotChat = errors.New("not a chat frame")

// frame is one data channel message.
type frame struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

type chatPayload struct {
	From   string `msgpack:"from"`
	Text   string `msgpack:"text"`
	SentAt int64  `msgpack:"sentAt"`
}

func encodeChat(from, text string, now time.Time) ([]byte, error) {
	payload, err := msgpack.Marshal(chatPayload{From: from, Text: text, SentAt: now.UnixMilli()})
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(frame{Type: frameChat, Payload: payload})
}

func decodeChat(data []byte) (chatPayload, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return chatPayload{}, err
	}
	if f.Type != frameChat {
		return chatPayload{}, errNotChat
	}
	var c chatPayload
	if err := msgpack.Unmarshal(f.Payload, &c); err != nil {
		return chatPayload{}, err
	}
	return c, nil
}
