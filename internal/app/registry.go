package app

import (
	"slices"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry tracks live sockets by peer id plus per-room member and
// waiting sets. It has no locks: the hub goroutine owns it.
type Registry struct {
	sessions map[domain.PeerID]core.MemberSession
	members  map[domain.RoomName]*PeerSet
	waiting  map[domain.RoomName]*PeerSet
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.PeerID]core.MemberSession),
		members:  make(map[domain.RoomName]*PeerSet),
		waiting:  make(map[domain.RoomName]*PeerSet),
	}
}

// Register makes sess the live socket for its peer id. A previous socket of
// the same peer is returned so the caller can retire it.
func (r *Registry) Register(sess core.MemberSession) (prev core.MemberSession, replaced bool) {
	id := sess.Meta().PeerID
	prev, replaced = r.sessions[id]
	r.sessions[id] = sess
	log.Debug().Str("module", "app.registry").Str("peer", string(id)).Str("sid", string(sess.ID())).Bool("replaced", replaced).Msg("registered signal")
	return prev, replaced
}

// UnregisterConn drops sess only if it is still the live socket for its peer.
func (r *Registry) UnregisterConn(sess core.MemberSession) bool {
	id := sess.Meta().PeerID
	cur, ok := r.sessions[id]
	if !ok || cur.ID() != sess.ID() {
		return false
	}
	delete(r.sessions, id)
	log.Debug().Str("module", "app.registry").Str("peer", string(id)).Str("sid", string(sess.ID())).Msg("unregistered signal")
	return true
}

// Unregister drops whatever socket is live for id along with its member or
// waiting entry. Unknown ids are a no-op.
func (r *Registry) Unregister(id domain.PeerID) bool {
	cur, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	if room := cur.Meta().Room; room != "" {
		r.RemoveMember(room, id)
		r.RemoveWaiter(room, id)
	}
	log.Debug().Str("module", "app.registry").Str("peer", string(id)).Msg("unregistered peer")
	return true
}

func (r *Registry) Get(id domain.PeerID) (core.MemberSession, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// IsCurrent reports whether sess is the live socket for its peer.
func (r *Registry) IsCurrent(sess core.MemberSession) bool {
	cur, ok := r.sessions[sess.Meta().PeerID]
	return ok && cur.ID() == sess.ID()
}

// AddMember admits id into room, taking it out of the waiting set.
func (r *Registry) AddMember(room domain.RoomName, id domain.PeerID) bool {
	r.removeFrom(r.waiting, room, id)
	set, ok := r.members[room]
	if !ok {
		set = NewPeerSet()
		r.members[room] = set
		log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("room created")
	}
	return set.Add(id)
}

// RemoveMember forgets the room once its last member leaves.
func (r *Registry) RemoveMember(room domain.RoomName, id domain.PeerID) bool {
	if !r.removeFrom(r.members, room, id) {
		return false
	}
	if _, ok := r.members[room]; !ok {
		log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("room dissolved")
	}
	return true
}

// AddWaiter queues id and returns its 1-based position.
func (r *Registry) AddWaiter(room domain.RoomName, id domain.PeerID) int {
	r.removeFrom(r.members, room, id)
	set, ok := r.waiting[room]
	if !ok {
		set = NewPeerSet()
		r.waiting[room] = set
	}
	set.Add(id)
	return set.Position(id)
}

func (r *Registry) RemoveWaiter(room domain.RoomName, id domain.PeerID) bool {
	return r.removeFrom(r.waiting, room, id)
}

func (r *Registry) removeFrom(sets map[domain.RoomName]*PeerSet, room domain.RoomName, id domain.PeerID) bool {
	set, ok := sets[room]
	if !ok || !set.Remove(id) {
		return false
	}
	if set.Len() == 0 {
		delete(sets, room)
	}
	return true
}

func (r *Registry) IsMember(room domain.RoomName, id domain.PeerID) bool {
	set, ok := r.members[room]
	return ok && set.Has(id)
}

func (r *Registry) IsWaiting(room domain.RoomName, id domain.PeerID) bool {
	set, ok := r.waiting[room]
	return ok && set.Has(id)
}

func (r *Registry) MembersOf(room domain.RoomName) []domain.PeerID {
	if set, ok := r.members[room]; ok {
		return set.List()
	}
	return nil
}

func (r *Registry) WaitersOf(room domain.RoomName) []domain.PeerID {
	if set, ok := r.waiting[room]; ok {
		return set.List()
	}
	return nil
}

// Sessions resolves ids to live sockets, skipping unknown ones.
func (r *Registry) Sessions(ids []domain.PeerID) []core.MemberSession {
	out := make([]core.MemberSession, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// HostsOf returns admitted members of room that hold the host role.
func (r *Registry) HostsOf(room domain.RoomName) []core.MemberSession {
	var out []core.MemberSession
	for _, s := range r.Sessions(r.MembersOf(room)) {
		if s.Meta().IsHost {
			out = append(out, s)
		}
	}
	return out
}

// DisplayNames maps every member of room that has a display name.
func (r *Registry) DisplayNames(room domain.RoomName) map[string]string {
	names := make(map[string]string)
	for _, s := range r.Sessions(r.MembersOf(room)) {
		if n := s.Meta().DisplayName; n != "" {
			names[string(s.Meta().PeerID)] = n
		}
	}
	return names
}

// Rooms lists every room with members or waiters, sorted by name.
func (r *Registry) Rooms() []domain.RoomInfo {
	names := make([]domain.RoomName, 0, len(r.members)+len(r.waiting))
	for name := range r.members {
		names = append(names, name)
	}
	for name := range r.waiting {
		if _, ok := r.members[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	out := make([]domain.RoomInfo, 0, len(names))
	for _, name := range names {
		info := domain.RoomInfo{
			Name:    name,
			Members: nonNil(r.MembersOf(name)),
			Waiting: nonNil(r.WaitersOf(name)),
			Hosts:   []domain.PeerID{},
		}
		for _, h := range r.HostsOf(name) {
			info.Hosts = append(info.Hosts, h.Meta().PeerID)
		}
		out = append(out, info)
	}
	return out
}

func nonNil(ids []domain.PeerID) []domain.PeerID {
	if ids == nil {
		return []domain.PeerID{}
	}
	return ids
}
