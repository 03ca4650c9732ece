package orch

import (
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) control(out *outbox, sess core.MemberSession, in wire.Inbound) {
	switch in.Action {
	case wire.ActionAdmit:
		o.admitWaiter(out, sess, in)
	case wire.ActionReject:
		o.rejectWaiter(out, sess, in)
	case wire.ActionRaiseHand, wire.ActionHandLowered:
		o.hand(out, sess, in.Action)
	case wire.ActionHandoffHost:
		o.handoffHost(out, sess, in)
	case wire.ActionSetDisplayName:
		o.setDisplayName(out, sess, in)
	default:
		log.Warn().Str("module", "app.orch").Str("peer", string(sess.Meta().PeerID)).Str("action", in.Action).Msg("unknown control action ignored")
	}
}

func (o *Orchestrator) isAdmittedHost(meta *domain.Member) bool {
	return meta.Room != "" && meta.IsHost && o.Registry.IsMember(meta.Room, meta.PeerID)
}

// targetOf decodes {peerId} or answers with a protocol error.
func targetOf(out *outbox, sess core.MemberSession, in wire.Inbound) (domain.PeerID, bool) {
	var ref wire.PeerRef
	if err := wire.Decode(in.Data, &ref); err != nil || ref.PeerID == "" {
		out.send(sess, wire.Error(in.Action+" requires data.peerId"))
		return "", false
	}
	return domain.PeerID(ref.PeerID), true
}

func (o *Orchestrator) admitWaiter(out *outbox, sess core.MemberSession, in wire.Inbound) {
	meta := sess.Meta()
	if !o.isAdmittedHost(meta) {
		return
	}
	id, ok := targetOf(out, sess, in)
	if !ok || !o.Registry.IsWaiting(meta.Room, id) {
		return
	}
	target, ok := o.Registry.Get(id)
	if !ok {
		o.Registry.RemoveWaiter(meta.Room, id)
		o.notifyHosts(out, meta.Room)
		return
	}
	// admitted goes first so the waiter lifts its gate before the roster lands.
	out.send(target, wire.Control(string(meta.PeerID), string(meta.Room), wire.ActionAdmitted, nil))
	o.admit(out, target)
	o.notifyHosts(out, meta.Room)
}

func (o *Orchestrator) rejectWaiter(out *outbox, sess core.MemberSession, in wire.Inbound) {
	meta := sess.Meta()
	if !o.isAdmittedHost(meta) {
		return
	}
	id, ok := targetOf(out, sess, in)
	if !ok || !o.Registry.RemoveWaiter(meta.Room, id) {
		return
	}
	log.Info().Str("module", "app.orch").Str("peer", string(id)).Str("room", string(meta.Room)).Str("host", string(meta.PeerID)).Msg("rejected")
	if target, ok := o.Registry.Get(id); ok {
		out.sendAndClose(target, wire.Control(string(meta.PeerID), string(meta.Room), wire.ActionRejected, nil),
			CloseRejected, "rejected by host")
	}
	o.notifyHosts(out, meta.Room)
}

// hand fans a raise or lower out to the whole room, sender included.
func (o *Orchestrator) hand(out *outbox, sess core.MemberSession, action string) {
	meta := sess.Meta()
	if meta.Room == "" || !o.Registry.IsMember(meta.Room, meta.PeerID) {
		return
	}
	msg := wire.Control(string(meta.PeerID), string(meta.Room), action, wire.PeerRef{PeerID: string(meta.PeerID)})
	for _, m := range o.Registry.Sessions(o.Registry.MembersOf(meta.Room)) {
		out.send(m, msg)
	}
}

func (o *Orchestrator) handoffHost(out *outbox, sess core.MemberSession, in wire.Inbound) {
	meta := sess.Meta()
	if !o.isAdmittedHost(meta) {
		return
	}
	id, ok := targetOf(out, sess, in)
	if !ok || id == meta.PeerID || !o.Registry.IsMember(meta.Room, id) {
		return
	}
	target, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	meta.IsHost = false
	target.Meta().IsHost = true
	log.Info().Str("module", "app.orch").Str("room", string(meta.Room)).Str("from", string(meta.PeerID)).Str("to", string(id)).Msg("host handed off")

	room := string(meta.Room)
	out.send(sess, wire.Control(string(meta.PeerID), room, wire.ActionHostDemoted, wire.PeerRef{PeerID: string(id)}))
	out.send(target, wire.Control(string(meta.PeerID), room, wire.ActionHostPromoted, wire.PeerRef{PeerID: string(meta.PeerID)}))
	if waiters := o.Registry.WaitersOf(meta.Room); len(waiters) > 0 {
		out.send(target, waitingList(meta.Room, waiters))
	}
}

func (o *Orchestrator) setDisplayName(out *outbox, sess core.MemberSession, in wire.Inbound) {
	meta := sess.Meta()
	var payload wire.DisplayName
	if err := wire.Decode(in.Data, &payload); err != nil {
		out.send(sess, wire.Error("set-display-name requires data.displayName"))
		return
	}
	name, err := domain.ParseDisplayName(payload.DisplayName)
	if err != nil {
		out.send(sess, wire.Error(err.Error()))
		return
	}
	meta.DisplayName = name
	if meta.Room == "" || !o.Registry.IsMember(meta.Room, meta.PeerID) {
		return
	}
	msg := wire.Control(string(meta.PeerID), string(meta.Room), wire.ActionDisplayNameChanged, wire.DisplayNameChanged{
		PeerID:           string(meta.PeerID),
		DisplayName:      name,
		PeerDisplayNames: o.Registry.DisplayNames(meta.Room),
	})
	for _, m := range o.Registry.Sessions(o.Registry.MembersOf(meta.Room)) {
		out.send(m, msg)
	}
}
