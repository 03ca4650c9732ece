package app

import "github.com/dkeye/meshcall/internal/domain"

// PeerSet is an insertion ordered set of peer ids.
type PeerSet struct {
	order []domain.PeerID
	index map[domain.PeerID]struct{}
}

func NewPeerSet() *PeerSet {
	return &PeerSet{index: make(map[domain.PeerID]struct{})}
}

// Add reports whether id was not present before.
func (s *PeerSet) Add(id domain.PeerID) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *PeerSet) Remove(id domain.PeerID) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *PeerSet) Has(id domain.PeerID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *PeerSet) Len() int { return len(s.order) }

// Position is 1-based, 0 when absent.
func (s *PeerSet) Position(id domain.PeerID) int {
	for i, v := range s.order {
		if v == id {
			return i + 1
		}
	}
	return 0
}

// List returns a copy in insertion order.
func (s *PeerSet) List() []domain.PeerID {
	out := make([]domain.PeerID, len(s.order))
	copy(out, s.order)
	return out
}
