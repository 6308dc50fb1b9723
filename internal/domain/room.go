package domain

// RoomID is a caller-supplied room name, e.g. a class session slug.
type RoomID string

type Room struct {
	ID RoomID
}
