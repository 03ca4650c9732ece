// Package core holds the seams between the relay's app layer and its
// socket adapters.
package core

import (
	"errors"

	"github.com/dkeye/meshcall/internal/domain"
)

var (
	ErrBackpressure = errors.New("signal: send buffer full")
	ErrConnClosed   = errors.New("signal: connection closed")
)

// Frame is one JSON text message bound for a socket.
type Frame []byte

// SignalConnection is the outbound half of a relay socket. The adapter
// owns it and closes it.
type SignalConnection interface {
	// TrySend never blocks. It returns ErrBackpressure when the
	// outbound buffer is full and ErrConnClosed after CloseWith.
	TrySend(Frame) error
	// CloseWith flushes frames already queued, then closes with code.
	CloseWith(code int, reason string)
	Close()
}

// SessionID identifies one socket. Two sockets of the same peer differ here.
type SessionID string

// MemberSession is what the registry stores and fans out to: a socket
// plus the member meta it connected with.
type MemberSession interface {
	ID() SessionID
	Meta() *domain.Member
	Signal() SignalConnection
}

type memberSession struct {
	id     SessionID
	meta   *domain.Member
	signal SignalConnection
}

func NewMemberSession(id SessionID, meta *domain.Member, signal SignalConnection) MemberSession {
	return &memberSession{id: id, meta: meta, signal: signal}
}

func (m *memberSession) ID() SessionID            { return m.id }
func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.signal }
