package orch

import (
	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
	"github.com/rs/zerolog/log"
)

// Close codes sent with relay initiated closes.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseReplaced        = 4000
	CloseRejected        = 4403
	CloseHostConflict    = 4409
)

// Delivery is one frame for one socket, optionally followed by a close.
type Delivery struct {
	To    core.MemberSession
	Msg   wire.Outbound
	Close *CloseFrame
}

type CloseFrame struct {
	Code   int
	Reason string
}

type outbox []Delivery

func (b *outbox) send(to core.MemberSession, msg wire.Outbound) {
	*b = append(*b, Delivery{To: to, Msg: msg})
}

func (b *outbox) sendAndClose(to core.MemberSession, msg wire.Outbound, code int, reason string) {
	*b = append(*b, Delivery{To: to, Msg: msg, Close: &CloseFrame{Code: code, Reason: reason}})
}

func (b *outbox) close(to core.MemberSession, code int, reason string) {
	*b = append(*b, Delivery{To: to, Close: &CloseFrame{Code: code, Reason: reason}})
}

// Orchestrator turns socket lifecycle events and inbound frames into
// registry mutations plus the frames that must go out. It does no I/O;
// the hub serializes calls and performs the deliveries.
type Orchestrator struct {
	Registry *app.Registry
	// SingleHost refuses a second host socket for a room that has one.
	SingleHost bool
}

func New(reg *app.Registry, singleHost bool) *Orchestrator {
	return &Orchestrator{Registry: reg, SingleHost: singleHost}
}

// OnOpen registers a freshly upgraded socket.
func (o *Orchestrator) OnOpen(sess core.MemberSession) []Delivery {
	var out outbox
	meta := sess.Meta()
	logger := log.With().Str("module", "app.orch").Str("peer", string(meta.PeerID)).Str("room", string(meta.Room)).Logger()

	if o.SingleHost && meta.Room != "" && meta.IsHost {
		for _, h := range o.Registry.HostsOf(meta.Room) {
			if h.Meta().PeerID == meta.PeerID {
				continue
			}
			logger.Warn().Str("host", string(h.Meta().PeerID)).Msg("host slot taken")
			msg := wire.Control(wire.ServerSender, string(meta.Room), wire.ActionHostBlocked,
				wire.HostBlocked{HostID: string(h.Meta().PeerID)})
			out.sendAndClose(sess, msg, CloseHostConflict, "room already has a host")
			return out
		}
	}

	if prev, replaced := o.Registry.Register(sess); replaced {
		logger.Info().Str("old_sid", string(prev.ID())).Msg("socket replaced")
		if !o.keepsMembership(prev.Meta(), meta) {
			o.leaveRoom(&out, prev.Meta())
		}
		out.close(prev, CloseReplaced, "replaced by a newer connection")
	}

	if meta.Room == "" {
		logger.Info().Msg("connected without room")
		return out
	}

	if meta.Gated() {
		meta.Admitted = false
		pos := o.Registry.AddWaiter(meta.Room, meta.PeerID)
		logger.Info().Int("position", pos).Msg("placed in waiting room")
		out.send(sess, wire.Control(wire.ServerSender, string(meta.Room), wire.ActionWaiting, wire.WaitingPosition{Position: pos}))
		o.notifyHosts(&out, meta.Room)
		return out
	}

	o.admit(&out, sess)
	if meta.IsHost {
		if waiters := o.Registry.WaitersOf(meta.Room); len(waiters) > 0 {
			out.send(sess, waitingList(meta.Room, waiters))
		}
	}
	return out
}

// OnClose handles a socket going away. Stale sockets are ignored.
func (o *Orchestrator) OnClose(sess core.MemberSession) []Delivery {
	if !o.Registry.UnregisterConn(sess) {
		log.Debug().Str("module", "app.orch").Str("sid", string(sess.ID())).Msg("close of replaced socket ignored")
		return nil
	}
	var out outbox
	o.leaveRoom(&out, sess.Meta())
	log.Info().Str("module", "app.orch").Str("peer", string(sess.Meta().PeerID)).Msg("disconnected")
	return out
}

// OnMessage routes one inbound text frame.
func (o *Orchestrator) OnMessage(sess core.MemberSession, raw []byte) []Delivery {
	if !o.Registry.IsCurrent(sess) {
		return nil
	}
	var out outbox
	in, err := wire.ParseInbound(raw)
	if err != nil {
		log.Debug().Str("module", "app.orch").Str("peer", string(sess.Meta().PeerID)).Err(err).Msg("rejected frame")
		out.send(sess, wire.Error(err.Error()))
		return out
	}

	switch in.Type {
	case wire.TypeSignal:
		o.relaySignal(&out, sess, in)
	case wire.TypeBroadcast:
		o.relayBroadcast(&out, sess, in)
	case wire.TypeControl:
		o.control(&out, sess, in)
	}
	return out
}

// Rooms is a read-only listing for the HTTP surface.
func (o *Orchestrator) Rooms() []domain.RoomInfo {
	return o.Registry.Rooms()
}

func (o *Orchestrator) relaySignal(out *outbox, sess core.MemberSession, in wire.Inbound) {
	from := sess.Meta().PeerID
	target, ok := o.Registry.Get(domain.PeerID(in.To))
	if !ok {
		log.Debug().Str("module", "app.orch").Str("from", string(from)).Str("to", in.To).Msg("signal target offline, dropped")
		return
	}
	out.send(target, wire.Signal(string(from), in.Data))
}

func (o *Orchestrator) relayBroadcast(out *outbox, sess core.MemberSession, in wire.Inbound) {
	meta := sess.Meta()
	if meta.Room == "" || !o.Registry.IsMember(meta.Room, meta.PeerID) {
		return
	}
	msg := wire.Broadcast(string(meta.PeerID), string(meta.Room), in.Data)
	for _, m := range o.Registry.Sessions(o.Registry.MembersOf(meta.Room)) {
		if m.Meta().PeerID != meta.PeerID {
			out.send(m, msg)
		}
	}
}

// keepsMembership: a reconnect straight back into the same room keeps the
// seat, so remaining members never see a leave for it.
func (o *Orchestrator) keepsMembership(prev, next *domain.Member) bool {
	return prev.Room != "" &&
		prev.Room == next.Room &&
		!next.Gated() &&
		o.Registry.IsMember(prev.Room, prev.PeerID)
}
