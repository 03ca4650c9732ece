package negotiation

import (
	"errors"
	"fmt"

	"github.com/dkeye/meshcall/internal/domain"
)

var (
	ErrBusy            = errors.New("negotiation: already in a call")
	ErrInvalidTarget   = errors.New("negotiation: invalid call target")
	ErrNotRinging      = errors.New("negotiation: no incoming call to answer")
	ErrNoSession       = errors.New("negotiation: no transport session")
	ErrNotHost         = errors.New("negotiation: host only")
	ErrFeatureDisabled = errors.New("negotiation: feature disabled")
	ErrRejected        = errors.New("negotiation: rejected by host")
	ErrLeft            = errors.New("negotiation: room left")
)

// SessionError is a failure tied to one peer's negotiation.
type SessionError struct {
	Op   string
	Peer domain.PeerID
	Err  error
}

func (e *SessionError) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s with %s: %v", e.Op, e.Peer, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// HostBlockedError reports a refused host join.
type HostBlockedError struct {
	HostID domain.PeerID
}

func (e *HostBlockedError) Error() string {
	return fmt.Sprintf("room already has a host (%s)", e.HostID)
}
