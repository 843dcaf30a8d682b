package server

import (
	"sort"
	"strings"
	"time"

	"github.com/npezzotti/go-locshare/internal/geo"
	"github.com/npezzotti/go-locshare/internal/types"
)

const (
	maxRoomIdLen = 32
	maxNameLen   = 24
	defaultName  = "Anonymous"
)

// Room owns its members and the set of live push subscribers. All access
// goes through the RoomServer's critical section.
type Room struct {
	key         string
	inviteToken string
	members     map[string]*types.Member
	subscribers map[string]*Subscriber
}

func newRoom(key, inviteToken string) *Room {
	return &Room{
		key:         key,
		inviteToken: inviteToken,
		members:     make(map[string]*types.Member),
		subscribers: make(map[string]*Subscriber),
	}
}

// reconcile maps a join onto an existing member when the device id or
// display name already belongs to one, otherwise mints a new member via
// newId. First match wins: device id (exact, case-sensitive), then display
// name (trimmed, case-insensitive). A reused member has its coordinates
// cleared so distances only resume once the client re-reports.
func (r *Room) reconcile(deviceId, name string, newId func() string) (*types.Member, bool) {
	var member *types.Member

	if deviceId != "" {
		for _, m := range r.members {
			if m.DeviceId == deviceId {
				member = m
				break
			}
		}
	}

	if member == nil {
		for _, m := range r.members {
			if strings.EqualFold(strings.TrimSpace(m.Name), name) {
				member = m
				break
			}
		}
	}

	created := member == nil
	if created {
		member = &types.Member{Id: newId()}
		r.members[member.Id] = member
	} else {
		member.Lat = nil
		member.Lng = nil
		member.Accuracy = nil
	}

	now := nowMillis()
	member.Name = name
	member.DeviceId = deviceId
	member.Active = true
	member.UpdatedAt = now
	member.LastSeenAt = now

	return member, created
}

// snapshot derives the externally visible view of the room: the member
// list plus a distance entry for every unordered pair of located members.
// It is a pure function of the member collection; nothing is cached.
func (r *Room) snapshot() types.Snapshot {
	members := make([]types.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, *m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Id < members[j].Id })

	distances := make([]types.Distance, 0)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := members[i], members[j]
			if !a.HasLocation() || !b.HasLocation() {
				continue
			}

			distances = append(distances, types.Distance{
				Between:     [2]string{a.Id, b.Id},
				Names:       [2]string{a.Name, b.Name},
				Meters:      geo.Distance(*a.Lat, *a.Lng, *b.Lat, *b.Lng),
				ErrorMeters: accuracyOrZero(a.Accuracy) + accuracyOrZero(b.Accuracy),
			})
		}
	}

	return types.Snapshot{Members: members, Distances: distances}
}

func (r *Room) empty() bool {
	return len(r.members) == 0 && len(r.subscribers) == 0
}

func accuracyOrZero(accuracy *float64) float64 {
	if accuracy == nil {
		return 0
	}
	return *accuracy
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func sanitizeRoomId(v string) string {
	return truncateRunes(strings.TrimSpace(v), maxRoomIdLen)
}

func sanitizeName(v string) string {
	v = truncateRunes(strings.TrimSpace(v), maxNameLen)
	if v == "" {
		v = defaultName
	}
	return v
}

// truncateRunes bounds by rune so a multi-byte character is never split
// into invalid UTF-8.
func truncateRunes(v string, max int) string {
	if r := []rune(v); len(r) > max {
		return string(r[:max])
	}
	return v
}
