package server

import (
	"encoding/json"

	"github.com/npezzotti/go-locshare/internal/stats"
)

// subscriberBuffer bounds how far a slow consumer may lag. Each event is
// a complete snapshot, so an overflowed send can be dropped: the next
// publish supersedes it.
const subscriberBuffer = 32

// Subscriber is one live push connection to a room. Events carries
// snapshots pre-encoded as JSON, ready for the transport to frame.
type Subscriber struct {
	id      string
	roomKey string
	Events  chan []byte
}

// Subscribe registers a push connection on a room and queues one
// immediate snapshot so a late joiner is not left blank until the next
// mutation elsewhere.
func (rs *RoomServer) Subscribe(roomId, token string) (*Subscriber, error) {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	room, err := rs.authorizeReadLocked(roomId, token)
	if err != nil {
		return nil, err
	}

	id, err := rs.newHandleId()
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		id:      id,
		roomKey: room.key,
		Events:  make(chan []byte, subscriberBuffer),
	}
	room.subscribers[id] = sub
	rs.stats.Incr(stats.Subscribers)

	if data, err := json.Marshal(room.snapshot()); err == nil {
		sub.Events <- data
	}

	return sub, nil
}

// Unsubscribe removes a push connection and evicts the room if nothing is
// left in it. Safe to call more than once per subscriber.
func (rs *RoomServer) Unsubscribe(sub *Subscriber) {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	room, ok := rs.rooms[sub.roomKey]
	if !ok {
		return
	}
	if _, ok := room.subscribers[sub.id]; !ok {
		return
	}

	delete(room.subscribers, sub.id)
	rs.stats.Decr(stats.Subscribers)
	rs.evictIfEmptyLocked(sub.roomKey)
}

// publishLocked fans one fresh snapshot out to every subscriber of the
// room. Sends never block: a subscriber whose buffer is full misses this
// snapshot and catches up on the next one.
func (rs *RoomServer) publishLocked(room *Room) {
	if len(room.subscribers) == 0 {
		return
	}

	data, err := json.Marshal(room.snapshot())
	if err != nil {
		rs.log.Printf("encode snapshot for room %q: %v", room.key, err)
		return
	}

	for _, sub := range room.subscribers {
		select {
		case sub.Events <- data:
		default:
		}
	}

	rs.stats.Incr(stats.SnapshotsPublished)
}
