package relay

// Room is one channel on the bus and the clients currently subscribed to it.
type Room struct {
	ID      string
	members map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[*Client]struct{})}
}

func (r *Room) has(c *Client) bool {
	_, ok := r.members[c]
	return ok
}

func (r *Room) empty() bool { return len(r.members) == 0 }
