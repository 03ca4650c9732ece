// Package coretest provides in-memory doubles for core interfaces.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

var _ core.SignalConnection = (*Signal)(nil)

// Signal records every frame sent to it. Capacity 0 means unbounded.
type Signal struct {
	mu          sync.Mutex
	frames      []core.Frame
	capacity    int
	closed      bool
	closeCode   int
	closeReason string
}

func NewSignal() *Signal { return &Signal{} }

// NewBoundedSignal fails TrySend with ErrBackpressure after n frames.
func NewBoundedSignal(n int) *Signal { return &Signal{capacity: n} }

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrConnClosed
	}
	if s.capacity > 0 && len(s.frames) >= s.capacity {
		return core.ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *Signal) CloseWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
}

func (s *Signal) Close() { s.CloseWith(1000, "") }

// Messages decodes and drains what was sent so far.
func (s *Signal) Messages() []wire.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Outbound, 0, len(s.frames))
	for _, f := range s.frames {
		var m wire.Outbound
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	s.frames = nil
	return out
}

func (s *Signal) Closed() (bool, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeCode, s.closeReason
}

// Session builds a member session backed by a fresh Signal.
func Session(sid string, meta *domain.Member) (core.MemberSession, *Signal) {
	sig := NewSignal()
	return core.NewMemberSession(core.SessionID(sid), meta, sig), sig
}
