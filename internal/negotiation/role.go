package negotiation

import "github.com/dkeye/meshcall/internal/domain"

// Role is the side a peer plays in one negotiation.
type Role int

const (
	// Initiator opens the data channel and originates every offer,
	// including renegotiation.
	Initiator Role = iota + 1
	// Responder answers and asks the initiator to renegotiate when its
	// own media changes.
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// RoleOf decides the local side against remote without a round trip: the
// byte-wise greater id initiates. Both peers must run the same rule, so any
// change here has to ship to every client at once. Equal ids (a peer talking
// to itself) yield Responder.
func RoleOf(local, remote domain.PeerID) Role {
	if local > remote {
		return Initiator
	}
	return Responder
}
