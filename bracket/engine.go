// Package bracket propagates win and reach probabilities through the
// knockout bracket analytically and lets a caller force match winners.
//
// An Engine is not safe for concurrent use. Queries may rebuild the memo
// table, so callers serialize every call, not just mutations.
package bracket

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/tournament"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPlaceholderRating is the rating shown for a third place pool
	// slot.
	DefaultPlaceholderRating = 1400.0

	// DefaultThirdApproxProb approximates the chance that some third placed
	// team from a pool fills its slot.
	DefaultThirdApproxProb = 0.67
)

var (
	ErrUnknownMatch = errors.New("unknown match")
	ErrMissingGroup = errors.New("group has no leaf teams")
)

// ReachPolicy sets the Round of 32 reach probability of a displayed
// occupant.
type ReachPolicy int

const (
	// ReachCertain treats the displayed occupant as certain to be there.
	ReachCertain ReachPolicy = iota
	// ReachWeighted uses the occupant's probability of holding that slot.
	ReachWeighted
)

// Action reports what SetOverride did.
type Action string

const (
	ActionLock   Action = "lock"
	ActionUnlock Action = "unlock"
)

// OverrideError rejects an override naming a team that cannot play the
// match.
type OverrideError struct {
	MatchID int
	Team    string
	Valid   []string
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("team %s cannot play match %d (valid: %s)", e.Team, e.MatchID, strings.Join(e.Valid, ", "))
}

type Config struct {
	Model             elo.Model
	Reach             ReachPolicy
	PlaceholderRating float64
	ThirdApproxProb   float64

	// OnRecompute, if set, observes the duration of every table rebuild.
	OnRecompute func(time.Duration)

	Log *logrus.Entry
}

type node struct {
	id    int
	round tournament.Round
	r32   bool
	from  [2]int // predecessor indexes, later rounds

	// Display occupants and their reach, Round of 32 only.
	slots [2]Team
	reach [2]float64
}

type Engine struct {
	cfg      Config
	def      *tournament.Definition
	nodes    []node
	children [][]int
	state    *State

	memo        []matchCalc
	memoVersion uint64
}

// New builds an engine over a validated definition.
func New(def *tournament.Definition, leaves Leaves, cfg Config) (*Engine, error) {
	if cfg.Model == (elo.Model{}) {
		cfg.Model = elo.DefaultModel()
	}
	if cfg.PlaceholderRating == 0 {
		cfg.PlaceholderRating = DefaultPlaceholderRating
	}
	if cfg.ThirdApproxProb == 0 {
		cfg.ThirdApproxProb = DefaultThirdApproxProb
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	e := &Engine{
		cfg:      cfg,
		def:      def,
		nodes:    make([]node, len(def.Knockout)),
		children: make([][]int, len(def.Knockout)),
		state:    newState(len(def.Knockout)),
	}
	for i, m := range def.Knockout {
		n := node{id: m.ID, round: m.Round, r32: m.Round == tournament.RoundOf32}
		if n.r32 {
			for s, raw := range m.Slots {
				t, reach, err := e.resolveSlot(raw, leaves)
				if err != nil {
					return nil, fmt.Errorf("match %d: %w", m.ID, err)
				}
				n.slots[s], n.reach[s] = t, reach
			}
		} else {
			for s, from := range m.From {
				j, ok := def.MatchIndex(from)
				if !ok {
					return nil, fmt.Errorf("%w: %d", ErrUnknownMatch, from)
				}
				n.from[s] = j
				e.children[j] = append(e.children[j], i)
			}
		}
		e.nodes[i] = n
	}
	return e, nil
}

// ResolveGroupSlot returns the displayed occupant of a Round of 32 slot.
func (e *Engine) ResolveGroupSlot(raw string, leaves Leaves) (Team, error) {
	t, _, err := e.resolveSlot(raw, leaves)
	return t, err
}

// resolveSlot picks the most likely occupant of a position slot. The
// runner-up pick skips the team already shown as winner.
func (e *Engine) resolveSlot(raw string, leaves Leaves) (Team, float64, error) {
	slot, err := tournament.ParseSlot(raw)
	if err != nil {
		return Team{}, 0, err
	}
	if slot.Kind == tournament.ThirdPlacePool {
		t := placeholder(slot.Pool, e.cfg.PlaceholderRating, e.cfg.ThirdApproxProb)
		return t, e.slotReach(t.ApproxProb), nil
	}

	teams := leaves[slot.Group]
	if len(teams) < 2 {
		return Team{}, 0, fmt.Errorf("%w: %s", ErrMissingGroup, slot.Group)
	}
	winner := argmax(teams, -1, func(t LeafTeam) float64 { return t.Pos1Prob })
	pick, prob := winner, teams[winner].Pos1Prob
	if slot.Kind == tournament.GroupRunnerUp {
		pick = argmax(teams, winner, func(t LeafTeam) float64 { return t.Pos2Prob })
		prob = teams[pick].Pos2Prob
	}
	lt := teams[pick]
	return confirmed(lt.Code, lt.Name, lt.Rating), e.slotReach(prob), nil
}

func argmax(teams []LeafTeam, skip int, f func(LeafTeam) float64) int {
	best := -1
	for i, t := range teams {
		if i == skip {
			continue
		}
		if best < 0 || f(t) > f(teams[best]) {
			best = i
		}
	}
	return best
}

func (e *Engine) slotReach(prob float64) float64 {
	if e.cfg.Reach == ReachWeighted {
		return prob
	}
	return 1
}

func (e *Engine) index(matchID int) (int, error) {
	i, ok := e.def.MatchIndex(matchID)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMatch, matchID)
	}
	return i, nil
}

// Version returns the current override version.
func (e *Engine) Version() uint64 {
	return e.state.Version()
}

// PossibleOccupants lists the teams that can play matchID: the lock if one
// is set, else everything that can arrive from the slots or predecessors.
func (e *Engine) PossibleOccupants(matchID int) ([]Team, error) {
	i, err := e.index(matchID)
	if err != nil {
		return nil, err
	}
	occ := e.table()[i].occupants
	out := make([]Team, len(occ))
	copy(out, occ)
	return out, nil
}

// ReachProbability is the probability that code plays matchID.
func (e *Engine) ReachProbability(code string, matchID int) (float64, error) {
	c, err := e.lookup(code, matchID)
	return c.reach, err
}

// WinProbability is the probability that code wins matchID given that it
// plays it.
func (e *Engine) WinProbability(code string, matchID int) (float64, error) {
	c, err := e.lookup(code, matchID)
	return c.win, err
}

// CumulativeWinProbability is the probability that code both plays and
// wins matchID.
func (e *Engine) CumulativeWinProbability(code string, matchID int) (float64, error) {
	c, err := e.lookup(code, matchID)
	return c.cum, err
}

// lookup returns a zero entry for a team that cannot reach the match.
func (e *Engine) lookup(code string, matchID int) (entry, error) {
	i, err := e.index(matchID)
	if err != nil {
		return entry{}, err
	}
	c, _ := e.table()[i].get(code)
	return c, nil
}

// SetOverride locks code as the winner of matchID along with every match
// on its way there. code must be a possible occupant of matchID, so a
// locked match only accepts its own team. Repeating the current lock
// removes it from that same path instead. Either way every lock strictly
// downstream is cleared.
func (e *Engine) SetOverride(matchID int, code string) (Action, error) {
	i, err := e.index(matchID)
	if err != nil {
		return "", err
	}
	calc := e.table()
	if !calc[i].occupies(code) {
		return "", &OverrideError{MatchID: matchID, Team: code, Valid: calc[i].codes()}
	}
	c, _ := calc[i].get(code)

	path := e.path(calc, i, code)
	action := ActionLock
	if l := e.state.Lock(i); l != nil && l.Code == code {
		action = ActionUnlock
		for _, j := range path {
			if l := e.state.Lock(j); l != nil && l.Code == code {
				e.state.clear(j)
			}
		}
	} else {
		for _, j := range path {
			e.state.set(j, c.team)
		}
	}
	e.clearDownstream(i)

	e.cfg.Log.WithFields(logrus.Fields{
		"match":   matchID,
		"team":    code,
		"action":  action,
		"version": e.state.Version(),
	}).Debug("bracket override")
	return action, nil
}

// path walks from match i back to the Round of 32 through the
// predecessors code can come from. It starts with i itself.
func (e *Engine) path(calc []matchCalc, i int, code string) []int {
	path := []int{i}
	for !e.nodes[i].r32 {
		next := -1
		for _, p := range e.nodes[i].from {
			if calc[p].occupies(code) {
				next = p
			}
		}
		if next < 0 {
			break
		}
		path = append(path, next)
		i = next
	}
	return path
}

func (e *Engine) clearDownstream(i int) {
	queue := append([]int(nil), e.children[i]...)
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		e.state.clear(j)
		queue = append(queue, e.children[j]...)
	}
}

// Reset removes every lock.
func (e *Engine) Reset() {
	e.state.reset()
}

// Locks returns the current locks keyed by match id.
func (e *Engine) Locks() map[int]string {
	out := make(map[int]string)
	for i, n := range e.nodes {
		if l := e.state.Lock(i); l != nil {
			out[n.id] = l.Code
		}
	}
	return out
}

// ApplyLocks replaces the current locks with a saved set. Locks are
// installed in bracket order; if any is not reachable the previous state
// is restored and an *OverrideError returned.
func (e *Engine) ApplyLocks(locks map[int]string) error {
	for id := range locks {
		if _, err := e.index(id); err != nil {
			return err
		}
	}
	prev := e.state.snapshot()
	e.state.reset()
	for i, n := range e.nodes {
		code, ok := locks[n.id]
		if !ok {
			continue
		}
		calc := e.table()
		if !calc[i].occupies(code) {
			err := &OverrideError{MatchID: n.id, Team: code, Valid: calc[i].codes()}
			e.state.restore(prev)
			return err
		}
		c, _ := calc[i].get(code)
		for _, j := range e.path(calc, i, code) {
			e.state.set(j, c.team)
		}
	}
	return nil
}
