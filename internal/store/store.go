// Package store mirrors the room registry to durable storage so room
// state survives process restarts.
package store

import "github.com/npezzotti/go-locshare/internal/types"

// RoomState is the persisted record for one room. Subscriber handles are
// transient per-process and never stored.
type RoomState struct {
	InviteToken string         `json:"inviteToken"`
	Users       []types.Member `json:"users"`
}

// RoomStore loads the registry once at startup and saves the complete
// state after every mutation. Durability is best-effort: callers log save
// failures but do not fail the triggering request.
type RoomStore interface {
	Load() (map[string]RoomState, error)
	Save(state map[string]RoomState) error
}
