package gateway

import (
	"sync"

	"github.com/medscribe/gateway/internal/models"
)

// Room name builders for the standard targeting dimensions.
func UserRoom(userID string) string           { return "user:" + userID }
func RoleRoom(role models.Role) string        { return "role:" + string(role) }
func DepartmentRoom(department string) string { return "department:" + department }

// Rooms tracks group memberships for targeted server-to-client pushes.
// It is safe for concurrent use by many connection handlers.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{}
}

// NewRooms builds an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{members: make(map[string]map[*Client]struct{})}
}

// Join adds a client to a room. Joining the same room twice is a no-op.
func (r *Rooms) Join(room string, c *Client) {
	if room == "" || c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[room] == nil {
		r.members[room] = make(map[*Client]struct{})
	}
	r.members[room][c] = struct{}{}
}

// Leave removes a client from a room, dropping the room when it empties.
func (r *Rooms) Leave(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, c)
}

// LeaveAll removes a client from every room it belongs to.
func (r *Rooms) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.members {
		r.leaveLocked(room, c)
	}
}

func (r *Rooms) leaveLocked(room string, c *Client) {
	clients, ok := r.members[room]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(r.members, room)
	}
}

// Broadcast enqueues an event to every member of a room. Slow members are
// handled by the per-client backpressure policy, not here.
func (r *Rooms) Broadcast(room string, event Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.members[room] {
		c.Enqueue(event)
	}
}

// Size reports the member count of a room.
func (r *Rooms) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[room])
}
