package app

import "github.com/dkeye/meshcall/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a socket whose send buffer is full.
type Policy interface {
	OnBackPressure(member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(member core.MemberSession) BackpressureAction {
	return KickMember
}

// PolicyFor maps a config value to a policy. Unknown names kick.
func PolicyFor(name string) Policy {
	switch name {
	case "drop":
		return dropPolicy{}
	default:
		return SimplePolicy{}
	}
}

type dropPolicy struct{}

func (dropPolicy) OnBackPressure(core.MemberSession) BackpressureAction { return DropFrame }
