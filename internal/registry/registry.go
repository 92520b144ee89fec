package registry

import "sync"

// Member holds the display attributes a participant chose at join time.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Registry tracks which rooms exist and who is currently in each of them.
// It knows nothing about operations. A room stays registered after its last
// member leaves.
type Registry struct {
	rooms map[string]map[string]Member
	mu    sync.RWMutex
}

func New() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Member),
	}
}

// Ensure registers the room if it is not known yet.
func (r *Registry) Ensure(roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(roomKey)
}

func (r *Registry) ensureLocked(roomKey string) map[string]Member {
	members, ok := r.rooms[roomKey]
	if !ok {
		members = make(map[string]Member)
		r.rooms[roomKey] = members
	}
	return members
}

func (r *Registry) AddMember(roomKey string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(roomKey)[m.ID] = m
}

// RemoveMember reports whether the session was a member of the room.
func (r *Registry) RemoveMember(roomKey, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomKey]
	if !ok {
		return false
	}
	if _, ok := members[sessionID]; !ok {
		return false
	}
	delete(members, sessionID)
	return true
}

func (r *Registry) Member(roomKey, sessionID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rooms[roomKey][sessionID]
	return m, ok
}

// ListMembers returns a copy of the room's membership keyed by session id.
// Unknown rooms yield an empty map.
func (r *Registry) ListMembers(roomKey string) map[string]Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomKey]
	out := make(map[string]Member, len(members))
	for id, m := range members {
		out[id] = m
	}
	return out
}

func (r *Registry) RoomExists(roomKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomKey]
	return ok
}

// Returns the total number of members across all rooms
func (r *Registry) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}
	return total
}

// Counts returns the member count of every known room, empty ones included.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.rooms))
	for key, members := range r.rooms {
		counts[key] = len(members)
	}
	return counts
}
