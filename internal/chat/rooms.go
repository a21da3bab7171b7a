package chat

import "strings"

// Rooms maps named rooms to the connections joined to them.
// It is not safe for concurrent use; ChatManager guards it with its mutex.
type Rooms struct {
	RoomClients map[string]map[string]*Client // room -> conn id -> client
	ClientRooms map[string]map[string]bool    // conn id -> set(room)
}

func NewRooms() *Rooms {
	return &Rooms{
		RoomClients: map[string]map[string]*Client{},
		ClientRooms: map[string]map[string]bool{},
	}
}

// normalizeRoom trims surrounding whitespace; identities are otherwise opaque.
func normalizeRoom(room string) string {
	return strings.TrimSpace(room)
}

func (r *Rooms) Join(room string, c *Client) {
	room = normalizeRoom(room)
	if room == "" {
		return
	}
	if _, ok := r.RoomClients[room]; !ok {
		r.RoomClients[room] = map[string]*Client{}
	}
	r.RoomClients[room][c.ID] = c

	if _, ok := r.ClientRooms[c.ID]; !ok {
		r.ClientRooms[c.ID] = map[string]bool{}
	}
	r.ClientRooms[c.ID][room] = true
}

// Leave removes c from room and reports whether it was a member.
func (r *Rooms) Leave(room string, c *Client) bool {
	room = normalizeRoom(room)
	members, ok := r.RoomClients[room]
	if !ok {
		return false
	}
	if _, ok := members[c.ID]; !ok {
		return false
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.RoomClients, room)
	}
	if s, ok := r.ClientRooms[c.ID]; ok {
		delete(s, room)
		if len(s) == 0 {
			delete(r.ClientRooms, c.ID)
		}
	}
	return true
}

// LeaveAll removes c from every room it joined.
func (r *Rooms) LeaveAll(c *Client) {
	for room := range r.ClientRooms[c.ID] {
		if members, ok := r.RoomClients[room]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(r.RoomClients, room)
			}
		}
	}
	delete(r.ClientRooms, c.ID)
}

func (r *Rooms) Has(room string, c *Client) bool {
	return r.ClientRooms[c.ID][normalizeRoom(room)]
}

func (r *Rooms) Members(room string) []*Client {
	members := r.RoomClients[normalizeRoom(room)]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}
