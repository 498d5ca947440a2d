// Package room keeps track of which live connections are joined to which broadcast channel.
//
// A Registry is not safe for concurrent use; it is owned by the event loop.
package room

// Dashboard is the channel of connections browsing the lobby list.
const Dashboard = "dashboard-room"

// Member is a live connection that can be joined to rooms.
type Member interface {
	ID() string
	UserID() string
	Username() string
	Emit(event string, data any)
}

type Registry struct {
	rooms map[string][]Member
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string][]Member)}
}

// Join adds m to room and returns the member count afterwards. Joining twice is a no-op.
func (r *Registry) Join(room string, m Member) int {
	if r.Has(room, m.ID()) {
		return len(r.rooms[room])
	}

	r.rooms[room] = append(r.rooms[room], m)
	return len(r.rooms[room])
}

// Leave removes the member from room and returns the member count afterwards.
func (r *Registry) Leave(room, memberID string) int {
	members := r.rooms[room]
	for i, m := range members {
		if m.ID() == memberID {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}

	if len(members) == 0 {
		delete(r.rooms, room)
		return 0
	}

	r.rooms[room] = members
	return len(members)
}

// LeaveAll removes the member from every room and returns the rooms it was in.
func (r *Registry) LeaveAll(memberID string) []string {
	var left []string
	for name := range r.rooms {
		if r.Has(name, memberID) {
			left = append(left, name)
		}
	}

	for _, name := range left {
		r.Leave(name, memberID)
	}

	return left
}

func (r *Registry) Has(room, memberID string) bool {
	for _, m := range r.rooms[room] {
		if m.ID() == memberID {
			return true
		}
	}
	return false
}

// Members returns the members of room in join order.
func (r *Registry) Members(room string) []Member {
	return append([]Member(nil), r.rooms[room]...)
}

func (r *Registry) Count(room string) int {
	return len(r.rooms[room])
}

// Broadcast emits an event to every member of room.
func (r *Registry) Broadcast(room, event string, data any) {
	for _, m := range r.rooms[room] {
		m.Emit(event, data)
	}
}
