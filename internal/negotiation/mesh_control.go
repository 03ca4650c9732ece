package negotiation

import (
	"encoding/json"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/signaling"
	"github.com/dkeye/meshcall/internal/wire"
)

func (m *Mesh) onControl(ev signaling.ControlEvent) {
	switch ev.Action {
	case wire.ActionWaiting:
		m.inWaiting = true
		var pos wire.WaitingPosition
		_ = wire.Decode(ev.Data, &pos)
		m.logger.Info().Int("position", pos.Position).Msg("in waiting room")
	case wire.ActionWaitingList:
		var list wire.WaitingList
		if err := wire.Decode(ev.Data, &list); err != nil {
			m.logger.Debug().Err(err).Msg("bad waiting-list payload")
			return
		}
		m.waitingList = toPeerIDs(list.Waiting)
	case wire.ActionAdmitted:
		m.inWaiting = false
		m.logger.Info().Str("by", string(ev.From)).Msg("admitted")
		m.reconcile()
	case wire.ActionRejected:
		m.inWaiting = false
		m.err = ErrRejected
		m.logger.Info().Str("by", string(ev.From)).Msg("rejected from room")
		m.Leave()
	case wire.ActionRaiseHand, wire.ActionHandLowered:
		id := refOr(ev.Data, ev.From)
		if ev.Action == wire.ActionRaiseHand {
			m.hands[id] = true
		} else {
			delete(m.hands, id)
		}
	case wire.ActionHostPromoted:
		m.isHost = true
	case wire.ActionHostDemoted:
		m.isHost = false
		m.waitingList = nil
	case wire.ActionHostBlocked:
		var blocked wire.HostBlocked
		_ = wire.Decode(ev.Data, &blocked)
		m.err = &HostBlockedError{HostID: domain.PeerID(blocked.HostID)}
	case wire.ActionDisplayNameChanged:
		var changed wire.DisplayNameChanged
		if err := wire.Decode(ev.Data, &changed); err != nil {
			return
		}
		if len(changed.PeerDisplayNames) > 0 {
			m.names = make(map[domain.PeerID]string, len(changed.PeerDisplayNames))
			for id, name := range changed.PeerDisplayNames {
				m.names[domain.PeerID(id)] = name
			}
		} else if changed.PeerID != "" {
			m.names[domain.PeerID(changed.PeerID)] = changed.DisplayName
		}
	default:
		m.logger.Debug().Str("action", ev.Action).Msg("unhandled control action")
	}
}

// Admit lets a waiting peer into the room. Host only.
func (m *Mesh) Admit(id domain.PeerID) error {
	if err := m.hostCommand(); err != nil {
		return err
	}
	return m.opts.Channel.SendControl(wire.ActionAdmit, wire.PeerRef{PeerID: string(id)})
}

// Reject turns a waiting peer away. Host only.
func (m *Mesh) Reject(id domain.PeerID) error {
	if err := m.hostCommand(); err != nil {
		return err
	}
	return m.opts.Channel.SendControl(wire.ActionReject, wire.PeerRef{PeerID: string(id)})
}

// HandoffHost passes the host role to another member.
func (m *Mesh) HandoffHost(id domain.PeerID) error {
	if !m.opts.Features.HostControls {
		return ErrFeatureDisabled
	}
	if !m.isHost {
		return ErrNotHost
	}
	if id == m.opts.Self || id == "" {
		return ErrInvalidTarget
	}
	return m.opts.Channel.SendControl(wire.ActionHandoffHost, wire.PeerRef{PeerID: string(id)})
}

func (m *Mesh) hostCommand() error {
	if !m.opts.Features.WaitingRoom {
		return ErrFeatureDisabled
	}
	if !m.isHost {
		return ErrNotHost
	}
	return nil
}

func (m *Mesh) RaiseHand() error {
	return m.opts.Channel.SendControl(wire.ActionRaiseHand, nil)
}

func (m *Mesh) LowerHand() error {
	return m.opts.Channel.SendControl(wire.ActionHandLowered, nil)
}

func (m *Mesh) SetDisplayName(name string) error {
	name, err := domain.ParseDisplayName(name)
	if err != nil {
		return err
	}
	return m.opts.Channel.SetDisplayName(name)
}

// refOr reads {peerId} from data, falling back to def.
func refOr(data json.RawMessage, def domain.PeerID) domain.PeerID {
	var ref wire.PeerRef
	if wire.Decode(data, &ref) == nil && ref.PeerID != "" {
		return domain.PeerID(ref.PeerID)
	}
	return def
}

func toPeerIDs(ids []string) []domain.PeerID {
	out := make([]domain.PeerID, len(ids))
	for i, id := range ids {
		out[i] = domain.PeerID(id)
	}
	return out
}
