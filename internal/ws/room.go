package ws

import (
	"sync"

	"github.com/translation-studio/collab/internal/presence"
)

// defaultReplayCapacity bounds how many recent frames a room replays to a
// joining client.
const defaultReplayCapacity = 64

// Room is one project's collaboration space: the set of joined users plus a
// short replay buffer of recent edits.
type Room struct {
	projectID string
	roster    *presence.Roster
	replay    *replayBuffer
}

// NewRoom creates an empty room for a project.
func NewRoom(projectID string) *Room {
	return &Room{
		projectID: projectID,
		roster:    presence.NewRoster(),
		replay:    newReplayBuffer(defaultReplayCapacity),
	}
}

// ProjectID returns the project this room belongs to.
func (r *Room) ProjectID() string {
	return r.projectID
}

// Join adds a user; re-joins are no-ops so reconnecting clients can re-issue
// join_project safely.
func (r *Room) Join(userID string) bool {
	return r.roster.Join(userID)
}

// Leave removes a user.
func (r *Room) Leave(userID string) bool {
	return r.roster.Leave(userID)
}

// Has reports whether a user is in the room.
func (r *Room) Has(userID string) bool {
	return r.roster.Contains(userID)
}

// Users returns the current occupants in join order.
func (r *Room) Users() []string {
	return r.roster.Users()
}

// Len returns the number of occupants.
func (r *Room) Len() int {
	return r.roster.Len()
}

// RoomManager tracks the rooms of all projects with active collaborators.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomManager creates an empty manager.
func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room for a project, creating it on first join.
func (m *RoomManager) GetOrCreate(projectID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[projectID]; ok {
		return room
	}
	room := NewRoom(projectID)
	m.rooms[projectID] = room
	return room
}

// Get returns the room for a project, or nil.
func (m *RoomManager) Get(projectID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[projectID]
}

// Users returns the occupants of a project room.
func (m *RoomManager) Users(projectID string) []string {
	room := m.Get(projectID)
	if room == nil {
		return nil
	}
	return room.Users()
}

// RemoveUser drops a user from every room and returns the projects they
// were in, so the caller can announce the departures.
func (m *RoomManager) RemoveUser(userID string) []string {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	var left []string
	for _, room := range rooms {
		if room.Leave(userID) {
			left = append(left, room.projectID)
		}
	}
	return left
}
