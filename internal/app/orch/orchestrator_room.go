package orch

import (
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
	"github.com/rs/zerolog/log"
)

// admit adds sess to its room and publishes the join to every member.
func (o *Orchestrator) admit(out *outbox, sess core.MemberSession) {
	meta := sess.Meta()
	meta.Admitted = true
	o.Registry.AddMember(meta.Room, meta.PeerID)
	log.Info().Str("module", "app.orch").Str("peer", string(meta.PeerID)).Str("room", string(meta.Room)).Msg("joined room")
	o.publishPresence(out, wire.PresenceJoin, meta)
}

// leaveRoom drops meta from whichever set of its room holds it.
func (o *Orchestrator) leaveRoom(out *outbox, meta *domain.Member) {
	if meta.Room == "" {
		return
	}
	if o.Registry.RemoveWaiter(meta.Room, meta.PeerID) {
		log.Info().Str("module", "app.orch").Str("peer", string(meta.PeerID)).Str("room", string(meta.Room)).Msg("left waiting room")
		o.notifyHosts(out, meta.Room)
		return
	}
	if !o.Registry.RemoveMember(meta.Room, meta.PeerID) {
		return
	}
	meta.Admitted = false
	log.Info().Str("module", "app.orch").Str("peer", string(meta.PeerID)).Str("room", string(meta.Room)).Msg("left room")
	o.publishPresence(out, wire.PresenceLeave, meta)
}

func (o *Orchestrator) publishPresence(out *outbox, action string, subject *domain.Member) {
	room := subject.Room
	ids := o.Registry.MembersOf(room)
	if len(ids) == 0 {
		return
	}
	msg := wire.Presence(action, string(room), string(subject.PeerID), subject.DisplayName,
		peerStrings(ids), o.Registry.DisplayNames(room))
	for _, m := range o.Registry.Sessions(ids) {
		out.send(m, msg)
	}
}

// notifyHosts sends the current waiting list to every host of room.
func (o *Orchestrator) notifyHosts(out *outbox, room domain.RoomName) {
	hosts := o.Registry.HostsOf(room)
	if len(hosts) == 0 {
		return
	}
	msg := waitingList(room, o.Registry.WaitersOf(room))
	for _, h := range hosts {
		out.send(h, msg)
	}
}

func waitingList(room domain.RoomName, waiters []domain.PeerID) wire.Outbound {
	return wire.Control(wire.ServerSender, string(room), wire.ActionWaitingList,
		wire.WaitingList{Waiting: peerStrings(waiters)})
}

func peerStrings(ids []domain.PeerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
