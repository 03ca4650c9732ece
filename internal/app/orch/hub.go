package orch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrHubStopped = errors.New("hub stopped")

type eventKind int

const (
	evOpen eventKind = iota
	evMessage
	evClose
	evQuery
)

type event struct {
	kind  eventKind
	sess  core.MemberSession
	raw   []byte
	query func(*Orchestrator)
}

// Hub owns the orchestrator and registry. Every socket event passes through
// one channel so events from the same socket keep their order.
type Hub struct {
	orch   *Orchestrator
	policy app.Policy
	events chan event
	done   chan struct{}
}

func NewHub(o *Orchestrator, policy app.Policy, buffer int) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		orch:   o,
		policy: policy,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}
}

// Run processes events until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	log.Info().Str("module", "app.hub").Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.hub").Msg("hub stopped")
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case evOpen:
		h.dispatch(h.orch.OnOpen(ev.sess))
	case evMessage:
		h.dispatch(h.orch.OnMessage(ev.sess, ev.raw))
	case evClose:
		h.dispatch(h.orch.OnClose(ev.sess))
	case evQuery:
		ev.query(h.orch)
	}
}

func (h *Hub) Open(sess core.MemberSession) error  { return h.post(event{kind: evOpen, sess: sess}) }
func (h *Hub) Close(sess core.MemberSession) error { return h.post(event{kind: evClose, sess: sess}) }

func (h *Hub) Deliver(sess core.MemberSession, raw []byte) error {
	return h.post(event{kind: evMessage, sess: sess, raw: raw})
}

func (h *Hub) post(ev event) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Rooms asks the loop for a snapshot of every room.
func (h *Hub) Rooms(ctx context.Context) ([]domain.RoomInfo, error) {
	reply := make(chan []domain.RoomInfo, 1)
	q := event{kind: evQuery, query: func(o *Orchestrator) { reply <- o.Rooms() }}
	select {
	case h.events <- q:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) dispatch(ds []Delivery) {
	for _, d := range ds {
		sig := d.To.Signal()
		if d.Msg.Type != "" {
			frame, err := json.Marshal(d.Msg)
			if err != nil {
				log.Error().Str("module", "app.hub").Err(err).Msg("marshal outbound")
				continue
			}
			if err := sig.TrySend(frame); err != nil {
				h.onSendError(d.To, err)
			}
		}
		if d.Close != nil {
			sig.CloseWith(d.Close.Code, d.Close.Reason)
		}
	}
}

func (h *Hub) onSendError(sess core.MemberSession, err error) {
	logger := log.With().Str("module", "app.hub").Str("peer", string(sess.Meta().PeerID)).Logger()
	if !errors.Is(err, core.ErrBackpressure) {
		logger.Debug().Err(err).Msg("send to closed socket")
		return
	}
	switch h.policy.OnBackPressure(sess) {
	case app.KickMember:
		logger.Warn().Msg("slow consumer kicked")
		sess.Signal().CloseWith(ClosePolicyViolation, "send buffer full")
	case app.DropFrame, app.NoAction:
		logger.Debug().Msg("frame dropped")
	}
}
