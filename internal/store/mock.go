package store

import (
	"github.com/stretchr/testify/mock"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) Load() (map[string]RoomState, error) {
	args := m.Called()
	if state, ok := args.Get(0).(map[string]RoomState); ok {
		return state, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRoomStore) Save(state map[string]RoomState) error {
	args := m.Called(state)
	return args.Error(0)
}
