package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed     = errors.New("invalid message payload")
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingTarget = errors.New("signal requires a target peer")
	ErrMissingAction = errors.New("control requires an action")
)

// ParseInbound decodes and validates a client frame.
func ParseInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch in.Type {
	case TypeSignal:
		if in.To == "" {
			return Inbound{}, ErrMissingTarget
		}
	case TypeBroadcast:
	case TypeControl:
		if in.Action == "" {
			return Inbound{}, ErrMissingAction
		}
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
	return in, nil
}

// Decode unmarshals a control payload. An absent payload is an error.
func Decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
