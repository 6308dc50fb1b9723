// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxIdentityLen    = 64
	MaxDisplayNameLen = 64
)

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

type Role string

const (
	RolePresenter Role = "presenter"
	RoleAttendee  Role = "attendee"
)

// MediaState carries the flags a participant advertises to the room.
type MediaState struct {
	Camera bool `json:"camera"`
	Mic    bool `json:"mic"`
	Screen bool `json:"screen"`
}

// Participant is a caller-supplied identity inside one room.
// It exists only while its owning connection is a room member.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Role        Role       `json:"role"`
	Media       MediaState `json:"media"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id, displayName string, role Role) (*Participant, error) {
	if id == "" {
		return nil, ErrIdentityEmpty
	}
	if len(id) > MaxIdentityLen {
		return nil, ErrIdentityTooLong
	}
	if displayName == "" {
		displayName = id
	}
	if len(displayName) > MaxDisplayNameLen {
		displayName = displayName[:MaxDisplayNameLen]
	}
	if role != RolePresenter {
		role = RoleAttendee
	}
	return &Participant{ID: id, DisplayName: displayName, Role: role}, nil
}
