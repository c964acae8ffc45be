package bracket

import (
	"time"
)

// entry is one candidate's numbers at one match.
type entry struct {
	team  Team
	side  int
	reach float64
	win   float64
	cum   float64
}

// matchCalc is the memo row of one match. Entries hold every candidate
// whether or not the match is locked; occupants is narrowed by the lock.
type matchCalc struct {
	entries   []entry
	byCode    map[string]int
	occupants []Team
}

func (m *matchCalc) get(code string) (entry, bool) {
	i, ok := m.byCode[code]
	if !ok {
		return entry{}, false
	}
	return m.entries[i], true
}

func (m *matchCalc) occupies(code string) bool {
	for _, t := range m.occupants {
		if t.Code == code {
			return true
		}
	}
	return false
}

// codes lists the possible occupants, which are the only valid overrides.
func (m *matchCalc) codes() []string {
	out := make([]string, len(m.occupants))
	for i, t := range m.occupants {
		out[i] = t.Code
	}
	return out
}

func (m *matchCalc) add(c entry) {
	m.byCode[c.team.Code] = len(m.entries)
	m.entries = append(m.entries, c)
}

// table returns the memo for the current version, rebuilding it first if
// the locks moved.
func (e *Engine) table() []matchCalc {
	if e.memo != nil && e.memoVersion == e.state.Version() {
		return e.memo
	}
	start := time.Now()
	e.memo = e.recompute()
	e.memoVersion = e.state.Version()
	if e.cfg.OnRecompute != nil {
		e.cfg.OnRecompute(time.Since(start))
	}
	return e.memo
}

// recompute makes one pass over the matches in bracket order. Every
// predecessor row is complete before it is read.
func (e *Engine) recompute() []matchCalc {
	calc := make([]matchCalc, len(e.nodes))
	for i, n := range e.nodes {
		mc := &calc[i]
		mc.byCode = make(map[string]int)
		if n.r32 {
			for s := range n.slots {
				mc.add(entry{team: n.slots[s], side: s, reach: n.reach[s]})
			}
		} else {
			for s, p := range n.from {
				for _, t := range calc[p].occupants {
					prev, _ := calc[p].get(t.Code)
					mc.add(entry{team: t, side: s, reach: prev.cum})
				}
			}
		}

		for k := range mc.entries {
			c := &mc.entries[k]
			c.win = e.conditionalWin(n, mc.entries, c)
		}

		lock := e.state.Lock(i)
		for k := range mc.entries {
			c := &mc.entries[k]
			switch {
			case lock == nil:
				c.cum = c.reach * c.win
			case lock.Code == c.team.Code:
				c.cum = c.reach
			default:
				c.cum = 0
			}
		}

		if lock != nil {
			mc.occupants = []Team{*lock}
		} else {
			mc.occupants = make([]Team, len(mc.entries))
			for k, c := range mc.entries {
				mc.occupants[k] = c.team
			}
		}
	}
	return calc
}

// conditionalWin averages the head to head win chance over every opponent
// on the other side, weighted by the opponent's chance of being there. A
// Round of 32 match has a single opponent and uses it directly.
func (e *Engine) conditionalWin(n node, entries []entry, c *entry) float64 {
	if n.r32 {
		for _, o := range entries {
			if o.side != c.side {
				return e.cfg.Model.KnockoutWin(c.team.Rating, o.team.Rating)
			}
		}
		return 1
	}
	var num, den float64
	for _, o := range entries {
		if o.side == c.side || o.reach == 0 {
			continue
		}
		num += o.reach * e.cfg.Model.KnockoutWin(c.team.Rating, o.team.Rating)
		den += o.reach
	}
	if den == 0 {
		return 1
	}
	return num / den
}
