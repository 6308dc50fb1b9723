package app

import (
	"github.com/edlive/classroom/internal/core"
	"github.com/edlive/classroom/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what to do with a member whose send buffer overflowed
// during a broadcast. A slow consumer must never stall the rest of the room.
type Policy interface {
	OnBackPressure(room domain.RoomID, member core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room domain.RoomID, member core.ConnID) BackpressureAction {
	return KickMember
}
