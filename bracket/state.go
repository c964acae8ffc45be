package bracket

// State is the mutable half of a bracket: one optional lock per match,
// indexed like Definition.Knockout, and a version that moves on every
// change.
type State struct {
	locks   []*Team
	version uint64
}

func newState(n int) *State {
	return &State{locks: make([]*Team, n)}
}

func (s *State) Version() uint64 {
	return s.version
}

// Lock returns the team locked at match index i, or nil.
func (s *State) Lock(i int) *Team {
	return s.locks[i]
}

func (s *State) set(i int, t Team) {
	t = t.locked()
	s.locks[i] = &t
	s.version++
}

func (s *State) clear(i int) bool {
	if s.locks[i] == nil {
		return false
	}
	s.locks[i] = nil
	s.version++
	return true
}

func (s *State) reset() {
	for i := range s.locks {
		s.locks[i] = nil
	}
	s.version++
}

// restore copies o's locks into s. The version still moves forward so any
// memo built on the discarded locks is dropped.
func (s *State) restore(o []*Team) {
	copy(s.locks, o)
	s.version++
}

func (s *State) snapshot() []*Team {
	out := make([]*Team, len(s.locks))
	copy(out, s.locks)
	return out
}
