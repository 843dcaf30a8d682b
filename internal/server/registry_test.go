package server

import (
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-locshare/internal/stats"
	"github.com/npezzotti/go-locshare/internal/store"
	"github.com/npezzotti/go-locshare/internal/testutil"
	"github.com/npezzotti/go-locshare/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockStats() *stats.MockStatsUpdater {
	ms := &stats.MockStatsUpdater{}
	ms.On("RegisterMetric", mock.Anything).Maybe()
	ms.On("Incr", mock.Anything).Maybe()
	ms.On("Decr", mock.Anything).Maybe()
	return ms
}

func newTestRoomServer(t *testing.T) *RoomServer {
	t.Helper()

	fs := store.NewFileStore(filepath.Join(t.TempDir(), "rooms.json"))
	rs, err := NewRoomServer(testutil.TestLogger(t), fs, newMockStats())
	require.NoError(t, err, "expected room server to initialize")
	return rs
}

func TestJoin_createsRoom(t *testing.T) {
	rs := newTestRoomServer(t)

	result, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err, "expected join to an unknown room to succeed")

	assert.Equal(t, "room1", result.RoomId, "expected room id to round trip")
	assert.NotEmpty(t, result.UserId, "expected a member id")
	assert.NotEmpty(t, result.InviteToken, "expected a minted invite token")
	assert.Equal(t, "Bob", result.Name)
	assert.Equal(t, 1, rs.RoomCount(), "expected one live room")
}

func TestJoin_adoptsSuppliedToken(t *testing.T) {
	rs := newTestRoomServer(t)

	result, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob", InviteToken: "sekrit"})
	require.NoError(t, err)
	assert.Equal(t, "sekrit", result.InviteToken, "expected supplied token to be adopted verbatim on creation")
}

func TestJoin_missingRoomId(t *testing.T) {
	tcases := []struct {
		name   string
		roomId string
	}{
		{name: "empty", roomId: ""},
		{name: "whitespace only", roomId: "   "},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rs := newTestRoomServer(t)
			_, err := rs.Join(JoinParams{RoomId: tc.roomId, Name: "Bob"})
			assert.ErrorIs(t, err, ErrRoomIdRequired, "expected join without room id to be rejected")
			assert.Equal(t, 0, rs.RoomCount(), "expected no room to be created")
		})
	}
}

func TestJoin_boundsRoomId(t *testing.T) {
	rs := newTestRoomServer(t)

	result, err := rs.Join(JoinParams{RoomId: strings.Repeat("x", 64), Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 32), result.RoomId, "expected room id to be length-bounded")
}

func TestJoin_wrongTokenForbidden(t *testing.T) {
	rs := newTestRoomServer(t)

	first, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err)

	_, err = rs.Join(JoinParams{RoomId: "room1", Name: "Mallory", InviteToken: "wrong"})
	assert.ErrorIs(t, err, ErrForbidden, "expected join with bad token to be rejected")

	_, err = rs.Join(JoinParams{RoomId: "room1", Name: "Mallory"})
	assert.ErrorIs(t, err, ErrForbidden, "expected join with missing token to be rejected")

	snap, err := rs.Snapshot("room1", first.InviteToken)
	require.NoError(t, err)
	assert.Len(t, snap.Members, 1, "expected rejected joins to create no members")
}

func TestJoin_reconcilesByDeviceId(t *testing.T) {
	rs := newTestRoomServer(t)

	first, err := rs.Join(JoinParams{RoomId: "room1", Name: "Alice", DeviceId: "device-1"})
	require.NoError(t, err)

	require.NoError(t, rs.UpdateLocation("room1", first.UserId, 10.0, 20.0, nil))

	second, err := rs.Join(JoinParams{
		RoomId:      "room1",
		Name:        "Alicia",
		DeviceId:    "device-1",
		InviteToken: first.InviteToken,
	})
	require.NoError(t, err)

	assert.Equal(t, first.UserId, second.UserId, "expected same logical member across rejoin")
	assert.Equal(t, "Alicia", second.Name, "expected name to be updated")

	snap, err := rs.Snapshot("room1", first.InviteToken)
	require.NoError(t, err)
	require.Len(t, snap.Members, 1)
	assert.Nil(t, snap.Members[0].Lat, "expected coordinates to be reset on rejoin")
}

func TestUpdateLocation(t *testing.T) {
	rs := newTestRoomServer(t)
	joined, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err)

	tcases := []struct {
		name   string
		roomId string
		userId string
		lat    float64
		lng    float64
		err    error
	}{
		{
			name:   "valid location",
			roomId: "room1",
			userId: joined.UserId,
			lat:    10.0,
			lng:    20.0,
			err:    nil,
		},
		{
			name:   "unknown room",
			roomId: "nope",
			userId: joined.UserId,
			lat:    10.0,
			lng:    20.0,
			err:    ErrInvalidLocation,
		},
		{
			name:   "unknown member",
			roomId: "room1",
			userId: "nope",
			lat:    10.0,
			lng:    20.0,
			err:    ErrInvalidLocation,
		},
		{
			name:   "NaN latitude",
			roomId: "room1",
			userId: joined.UserId,
			lat:    math.NaN(),
			lng:    20.0,
			err:    ErrInvalidLocation,
		},
		{
			name:   "infinite longitude",
			roomId: "room1",
			userId: joined.UserId,
			lat:    10.0,
			lng:    math.Inf(1),
			err:    ErrInvalidLocation,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := rs.UpdateLocation(tc.roomId, tc.userId, tc.lat, tc.lng, nil)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUpdateLocation_accuracy(t *testing.T) {
	rs := newTestRoomServer(t)
	joined, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err)

	member := func() types.Member {
		snap, err := rs.Snapshot("room1", joined.InviteToken)
		require.NoError(t, err)
		require.Len(t, snap.Members, 1)
		return snap.Members[0]
	}

	negative := -5.0
	require.NoError(t, rs.UpdateLocation("room1", joined.UserId, 1, 2, &negative))
	require.NotNil(t, member().Accuracy)
	assert.Equal(t, 0.0, *member().Accuracy, "expected negative accuracy to be clamped to zero")

	nan := math.NaN()
	require.NoError(t, rs.UpdateLocation("room1", joined.UserId, 1, 2, &nan))
	assert.Nil(t, member().Accuracy, "expected non-finite accuracy to be stored as absent")

	require.NoError(t, rs.UpdateLocation("room1", joined.UserId, 1, 2, nil))
	assert.Nil(t, member().Accuracy, "expected missing accuracy to be stored as absent")
}

func TestLeave(t *testing.T) {
	rs := newTestRoomServer(t)
	joined, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err)
	require.NoError(t, rs.UpdateLocation("room1", joined.UserId, 10.0, 20.0, nil))

	rs.Leave("room1", joined.UserId)

	snap, err := rs.Snapshot("room1", joined.InviteToken)
	require.NoError(t, err)
	require.Len(t, snap.Members, 1, "expected member to be retained after leave")
	assert.False(t, snap.Members[0].Active, "expected member to be inactive after leave")
	assert.NotNil(t, snap.Members[0].Lat, "expected coordinates to survive leave")
	assert.Equal(t, 1, rs.RoomCount(), "expected room to survive while it has members")

	// a location push from the retained member id re-activates it
	require.NoError(t, rs.UpdateLocation("room1", joined.UserId, 11.0, 21.0, nil))
	snap, err = rs.Snapshot("room1", joined.InviteToken)
	require.NoError(t, err)
	assert.True(t, snap.Members[0].Active, "expected location push to re-activate member")
}

func TestLeave_unknownIsNoop(t *testing.T) {
	rs := newTestRoomServer(t)

	assert.NotPanics(t, func() {
		rs.Leave("nope", "nobody")
	}, "leave must tolerate unknown rooms")

	joined, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err)
	rs.Leave("room1", "nobody")

	snap, err := rs.Snapshot("room1", joined.InviteToken)
	require.NoError(t, err)
	assert.True(t, snap.Members[0].Active, "expected unrelated members to be untouched")
}

func TestSnapshot_authorization(t *testing.T) {
	rs := newTestRoomServer(t)
	joined, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err)

	_, wrongToken := rs.Snapshot("room1", "wrong")
	_, missingRoom := rs.Snapshot("nope", joined.InviteToken)

	assert.ErrorIs(t, wrongToken, ErrForbidden)
	assert.ErrorIs(t, missingRoom, ErrForbidden)
	assert.Equal(t, wrongToken, missingRoom, "a bad token and a missing room must be indistinguishable")
}

func TestEndToEndScenario(t *testing.T) {
	rs := newTestRoomServer(t)

	bob, err := rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	require.NoError(t, err)

	acc := 5.0
	require.NoError(t, rs.UpdateLocation("room1", bob.UserId, 10.0, 20.0, &acc))

	carol, err := rs.Join(JoinParams{RoomId: "room1", Name: "Carol", InviteToken: bob.InviteToken})
	require.NoError(t, err)
	require.NotEqual(t, bob.UserId, carol.UserId)

	require.NoError(t, rs.UpdateLocation("room1", carol.UserId, 10.001, 20.001, &acc))

	snap, err := rs.Snapshot("room1", bob.InviteToken)
	require.NoError(t, err)

	assert.Len(t, snap.Members, 2, "expected both members in snapshot")
	require.Len(t, snap.Distances, 1, "expected a single pair")
	assert.InDelta(t, 156.06, snap.Distances[0].Meters, 0.5, "expected haversine distance for the pair")
	assert.Equal(t, 10.0, snap.Distances[0].ErrorMeters, "expected summed accuracies")
}

func TestRestore_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	fs := store.NewFileStore(path)

	rs1, err := NewRoomServer(testutil.TestLogger(t), fs, newMockStats())
	require.NoError(t, err)

	joined, err := rs1.Join(JoinParams{RoomId: "room1", Name: "Alice", DeviceId: "device-1"})
	require.NoError(t, err)
	require.NoError(t, rs1.UpdateLocation("room1", joined.UserId, 10.0, 20.0, nil))

	// a fresh process loads the same file
	rs2, err := NewRoomServer(testutil.TestLogger(t), store.NewFileStore(path), newMockStats())
	require.NoError(t, err)
	assert.Equal(t, 1, rs2.RoomCount(), "expected restored room")

	rejoined, err := rs2.Join(JoinParams{
		RoomId:      "room1",
		Name:        "Alice",
		DeviceId:    "device-1",
		InviteToken: joined.InviteToken,
	})
	require.NoError(t, err, "expected the restored token to authorize the rejoin")
	assert.Equal(t, joined.UserId, rejoined.UserId, "expected rejoin to reconcile to the persisted member")
}

func TestRestore_saveFailureDoesNotFailRequest(t *testing.T) {
	ms := &store.MockRoomStore{}
	ms.On("Load").Return(map[string]store.RoomState{}, nil).Once()
	ms.On("Save", mock.Anything).Return(assert.AnError)
	defer ms.AssertExpectations(t)

	rs, err := NewRoomServer(testutil.TestLogger(t), ms, newMockStats())
	require.NoError(t, err)

	_, err = rs.Join(JoinParams{RoomId: "room1", Name: "Bob"})
	assert.NoError(t, err, "expected join to succeed even when the save fails")
}

func TestRestore_largeStateDoesNotBlockStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")

	// well past the stats update channel's buffer
	users := make([]types.Member, 0, 600)
	for i := 0; i < 600; i++ {
		users = append(users, types.Member{
			Id:     fmt.Sprintf("member-%d", i),
			Name:   fmt.Sprintf("Member %d", i),
			Active: true,
		})
	}
	require.NoError(t, store.NewFileStore(path).Save(map[string]store.RoomState{
		"big": {InviteToken: "token", Users: users},
	}))

	su := stats.NewStatsUpdater(http.NewServeMux())
	su.Run()
	defer su.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := NewRoomServer(testutil.TestLogger(t), store.NewFileStore(path), su)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("restoring a large state file blocked startup")
	}
}

func Test_newInviteToken(t *testing.T) {
	token := newInviteToken()

	assert.Len(t, token, 32, "expected 16 random bytes hex encoded")
	_, err := hex.DecodeString(token)
	assert.NoError(t, err, "expected token to be valid hex")
	assert.NotEqual(t, token, newInviteToken(), "expected tokens to be unique")
}

func TestEviction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	fs := store.NewFileStore(path)
	require.NoError(t, fs.Save(map[string]store.RoomState{
		"ghost": {InviteToken: "token", Users: []types.Member{}},
	}))

	rs, err := NewRoomServer(testutil.TestLogger(t), fs, newMockStats())
	require.NoError(t, err)
	require.Equal(t, 1, rs.RoomCount())

	sub, err := rs.Subscribe("ghost", "token")
	require.NoError(t, err)
	assert.Equal(t, 1, rs.RoomCount(), "expected subscribed room to be kept")

	rs.Unsubscribe(sub)
	assert.Equal(t, 0, rs.RoomCount(), "expected memberless room to be evicted when its last subscriber leaves")
}
