// Package server implements the room presence and location
// synchronization engine: an explicit registry of rooms guarded by one
// critical section, so concurrent HTTP requests observe serialized,
// read-your-writes room state.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/npezzotti/go-locshare/internal/stats"
	"github.com/npezzotti/go-locshare/internal/store"
	"github.com/npezzotti/go-locshare/internal/types"
	"github.com/teris-io/shortid"
)

var (
	// ErrRoomIdRequired rejects a join without a usable room id.
	ErrRoomIdRequired = errors.New("room id is required")
	// ErrForbidden covers both a bad invite token and a missing room;
	// callers must not be able to probe for room existence.
	ErrForbidden = errors.New("invalid room or token")
	// ErrInvalidLocation rejects a location push for an unknown
	// room/member or non-finite coordinates.
	ErrInvalidLocation = errors.New("invalid location payload")
)

type RoomServer struct {
	log   *log.Logger
	store store.RoomStore
	stats stats.StatsProvider

	mtx   sync.RWMutex
	rooms map[string]*Room

	// id generation is injectable for tests
	newMemberId    func() string
	newInviteToken func() string
	newHandleId    func() (string, error)
}

// NewRoomServer restores all rooms from the store and registers the
// engine's metrics.
func NewRoomServer(logger *log.Logger, st store.RoomStore, sp stats.StatsProvider) (*RoomServer, error) {
	state, err := st.Load()
	if err != nil {
		return nil, err
	}

	sp.RegisterMetric(stats.ActiveRooms)
	sp.RegisterMetric(stats.Members)
	sp.RegisterMetric(stats.Subscribers)
	sp.RegisterMetric(stats.SnapshotsPublished)

	rs := &RoomServer{
		log:            logger,
		store:          st,
		stats:          sp,
		rooms:          make(map[string]*Room, len(state)),
		newMemberId:    uuid.NewString,
		newInviteToken: newInviteToken,
		newHandleId:    shortid.Generate,
	}

	for key, roomState := range state {
		room := newRoom(key, roomState.InviteToken)
		for _, user := range roomState.Users {
			member := user
			room.members[member.Id] = &member
			sp.Incr(stats.Members)
		}
		rs.rooms[key] = room
		sp.Incr(stats.ActiveRooms)
	}

	if len(rs.rooms) > 0 {
		logger.Printf("restored %d room(s) from store", len(rs.rooms))
	}

	return rs, nil
}

// newInviteToken mints the shared room secret: 16 random bytes, hex
// encoded.
func newInviteToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// rooms must not be minted with guessable tokens
		panic("read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b)
}

type JoinParams struct {
	RoomId      string
	Name        string
	DeviceId    string
	InviteToken string
}

type JoinResult struct {
	RoomId      string
	UserId      string
	Name        string
	DeviceId    string
	InviteToken string
}

// Join admits a caller to a room, creating the room on first contact.
// Joining an existing room requires its exact invite token. The caller is
// reconciled against existing members so a rejoin from the same device or
// name resumes its previous identity.
func (rs *RoomServer) Join(params JoinParams) (JoinResult, error) {
	roomId := sanitizeRoomId(params.RoomId)
	if roomId == "" {
		return JoinResult{}, ErrRoomIdRequired
	}
	name := sanitizeName(params.Name)

	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	room, ok := rs.rooms[roomId]
	if ok {
		if params.InviteToken != room.inviteToken {
			return JoinResult{}, ErrForbidden
		}
	} else {
		room = rs.createRoomLocked(roomId, params.InviteToken)
	}

	member, created := room.reconcile(params.DeviceId, name, rs.newMemberId)
	if created {
		rs.stats.Incr(stats.Members)
	}

	rs.saveLocked()
	rs.publishLocked(room)

	return JoinResult{
		RoomId:      roomId,
		UserId:      member.Id,
		Name:        member.Name,
		DeviceId:    member.DeviceId,
		InviteToken: room.inviteToken,
	}, nil
}

// UpdateLocation overwrites a member's last known position. Coordinates
// must be finite; accuracy is clamped to >= 0 and dropped when not finite.
func (rs *RoomServer) UpdateLocation(roomId, userId string, lat, lng float64, accuracy *float64) error {
	roomId = sanitizeRoomId(roomId)
	if !isFinite(lat) || !isFinite(lng) {
		return ErrInvalidLocation
	}

	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	room, ok := rs.rooms[roomId]
	if !ok {
		return ErrInvalidLocation
	}
	member, ok := room.members[userId]
	if !ok {
		return ErrInvalidLocation
	}

	la, ln := lat, lng
	member.Lat = &la
	member.Lng = &ln
	member.Accuracy = nil
	if accuracy != nil && isFinite(*accuracy) {
		acc := math.Max(0, *accuracy)
		member.Accuracy = &acc
	}
	member.Active = true
	now := nowMillis()
	member.UpdatedAt = now
	member.LastSeenAt = now

	rs.saveLocked()
	rs.publishLocked(room)

	return nil
}

// Leave marks the member inactive but keeps it, coordinates included, so
// a later join can silently resume it. Unknown rooms or members are a
// no-op: leave is a best-effort client hint.
func (rs *RoomServer) Leave(roomId, userId string) {
	roomId = sanitizeRoomId(roomId)

	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	room, ok := rs.rooms[roomId]
	if !ok {
		return
	}
	member, ok := room.members[userId]
	if !ok {
		return
	}

	member.Active = false
	member.LastSeenAt = nowMillis()

	rs.saveLocked()
	rs.publishLocked(room)
	rs.evictIfEmptyLocked(roomId)
}

// Snapshot returns the room's current view. Reads require an existing
// room and an exact token match.
func (rs *RoomServer) Snapshot(roomId, token string) (types.Snapshot, error) {
	rs.mtx.RLock()
	defer rs.mtx.RUnlock()

	room, err := rs.authorizeReadLocked(roomId, token)
	if err != nil {
		return types.Snapshot{}, err
	}

	return room.snapshot(), nil
}

// RoomCount reports the number of live rooms.
func (rs *RoomServer) RoomCount() int {
	rs.mtx.RLock()
	defer rs.mtx.RUnlock()
	return len(rs.rooms)
}

// SubscriberCount reports the number of push subscribers on a room.
func (rs *RoomServer) SubscriberCount(roomId string) int {
	rs.mtx.RLock()
	defer rs.mtx.RUnlock()

	room, ok := rs.rooms[sanitizeRoomId(roomId)]
	if !ok {
		return 0
	}
	return len(room.subscribers)
}

// authorizeReadLocked gates snapshot fetches and subscriptions. A missing
// room and a wrong token are indistinguishable to the caller.
func (rs *RoomServer) authorizeReadLocked(roomId, token string) (*Room, error) {
	room, ok := rs.rooms[sanitizeRoomId(roomId)]
	if !ok || room.inviteToken != token {
		return nil, ErrForbidden
	}
	return room, nil
}

// createRoomLocked establishes a room, adopting a caller-supplied token
// verbatim or minting a fresh one.
func (rs *RoomServer) createRoomLocked(roomId, suppliedToken string) *Room {
	token := suppliedToken
	if token == "" {
		token = rs.newInviteToken()
	}

	room := newRoom(roomId, token)
	rs.rooms[roomId] = room
	rs.stats.Incr(stats.ActiveRooms)
	rs.log.Printf("created room %q", roomId)

	return room
}

// evictIfEmptyLocked tears a room down once it has no members and no
// subscribers. Inactive members are retained indefinitely, so a room that
// ever admitted anyone is only evicted by operator-level housekeeping.
func (rs *RoomServer) evictIfEmptyLocked(roomId string) {
	room, ok := rs.rooms[roomId]
	if !ok || !room.empty() {
		return
	}

	delete(rs.rooms, roomId)
	rs.stats.Decr(stats.ActiveRooms)
	rs.log.Printf("evicted empty room %q", roomId)
}

// saveLocked mirrors the full registry to the store before the caller
// replies. A failed save is logged but never fails the request.
func (rs *RoomServer) saveLocked() {
	state := make(map[string]store.RoomState, len(rs.rooms))
	for key, room := range rs.rooms {
		users := make([]types.Member, 0, len(room.members))
		for _, m := range room.members {
			users = append(users, *m)
		}
		sort.Slice(users, func(i, j int) bool { return users[i].Id < users[j].Id })

		state[key] = store.RoomState{
			InviteToken: room.inviteToken,
			Users:       users,
		}
	}

	if err := rs.store.Save(state); err != nil {
		rs.log.Printf("save room state: %v", err)
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
