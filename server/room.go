package server

// room is the relay's routing table for one hint. All fields are guarded by
// the server mutex.
type room struct {
	hint      string
	authority *peer
	members   []*peer // active non-authority peers, oldest first
	pending   map[string]*peer
}

func newRoom(hint string, authority *peer) *room {
	return &room{
		hint:      hint,
		authority: authority,
		pending:   make(map[string]*peer),
	}
}

// active returns the authority followed by the members.
func (r *room) active() []*peer {
	peers := make([]*peer, 0, len(r.members)+1)
	if r.authority != nil {
		peers = append(peers, r.authority)
	}
	return append(peers, r.members...)
}

func (r *room) removeMember(p *peer) bool {
	for i, m := range r.members {
		if m == p {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// promote makes the oldest member the authority. It reports false when the
// room has no members left.
func (r *room) promote() (*peer, bool) {
	if len(r.members) == 0 {
		r.authority = nil
		return nil, false
	}
	r.authority = r.members[0]
	r.members = r.members[1:]
	return r.authority, true
}

func (r *room) empty() bool {
	return r.authority == nil && len(r.members) == 0 && len(r.pending) == 0
}
