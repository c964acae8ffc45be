package bracket

import (
	"sort"

	"github.com/cpacia/cupforecast/tournament"
)

type Participant struct {
	Team
	Reach         float64 `json:"reach"`
	Win           float64 `json:"win"`
	CumulativeWin float64 `json:"cumulativeWin"`
}

// MatchView is what a client renders for one match. Participants holds the
// most likely team from each side; Contenders lists every candidate by
// cumulative win probability.
type MatchView struct {
	ID           int              `json:"id"`
	Round        tournament.Round `json:"round"`
	From         []int            `json:"from,omitempty"`
	Participants [2]*Participant  `json:"participants"`
	Locked       *Team            `json:"locked,omitempty"`
	Contenders   []Participant    `json:"contenders"`
}

// Match returns the view of one match.
func (e *Engine) Match(matchID int) (MatchView, error) {
	i, err := e.index(matchID)
	if err != nil {
		return MatchView{}, err
	}
	return e.view(e.table(), i), nil
}

// Snapshot returns every match in bracket order.
func (e *Engine) Snapshot() []MatchView {
	calc := e.table()
	out := make([]MatchView, len(e.nodes))
	for i := range e.nodes {
		out[i] = e.view(calc, i)
	}
	return out
}

func (e *Engine) view(calc []matchCalc, i int) MatchView {
	n := e.nodes[i]
	v := MatchView{ID: n.id, Round: n.round}
	if !n.r32 {
		v.From = []int{e.nodes[n.from[0]].id, e.nodes[n.from[1]].id}
	}
	if l := e.state.Lock(i); l != nil {
		t := *l
		v.Locked = &t
	}

	for _, c := range calc[i].entries {
		p := Participant{Team: c.team, Reach: c.reach, Win: c.win, CumulativeWin: c.cum}
		v.Contenders = append(v.Contenders, p)
		if cur := v.Participants[c.side]; cur == nil || p.Reach > cur.Reach {
			v.Participants[c.side] = &p
		}
	}
	sort.SliceStable(v.Contenders, func(a, b int) bool {
		return v.Contenders[a].CumulativeWin > v.Contenders[b].CumulativeWin
	})
	return v
}
