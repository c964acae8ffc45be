package bracket

import (
	"fmt"

	"github.com/cpacia/cupforecast/tournament"
)

// Kind tags the three shapes a bracket team can take.
type Kind int

const (
	// Confirmed is a real team resolved from group output.
	Confirmed Kind = iota
	// ThirdPlacePlaceholder stands in for the unknown third placed team
	// that will fill a pool slot.
	ThirdPlacePlaceholder
	// Locked is a team forced through a match by an override.
	Locked
)

func (k Kind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case ThirdPlacePlaceholder:
		return "placeholder"
	case Locked:
		return "locked"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Team struct {
	Kind   Kind    `json:"kind"`
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Rating float64 `json:"elo"`

	// Pool and ApproxProb are set for placeholders only.
	Pool       string  `json:"pool,omitempty"`
	ApproxProb float64 `json:"approxProb,omitempty"`
}

func confirmed(code, name string, rating float64) Team {
	return Team{Kind: Confirmed, Code: code, Name: name, Rating: rating}
}

func placeholder(pool string, rating, approx float64) Team {
	return Team{
		Kind:       ThirdPlacePlaceholder,
		Code:       "3" + pool,
		Name:       "3rd place " + pool,
		Rating:     rating,
		Pool:       pool,
		ApproxProb: approx,
	}
}

func (t Team) locked() Team {
	t.Kind = Locked
	return t
}

// LeafTeam is one team's group-stage output as seen by the bracket.
type LeafTeam struct {
	Code     string
	Name     string
	Rating   float64
	Pos1Prob float64
	Pos2Prob float64
}

// Leaves maps a group name to its teams.
type Leaves map[string][]LeafTeam

// LeavesFromResult extracts leaf probabilities from a full tournament run.
func LeavesFromResult(res *tournament.Result) Leaves {
	out := make(Leaves, len(res.Groups))
	for _, g := range res.Groups {
		teams := make([]LeafTeam, len(g.Teams))
		for i, t := range g.Teams {
			teams[i] = LeafTeam{
				Code:     t.Code,
				Name:     t.Name,
				Rating:   t.Rating,
				Pos1Prob: t.Pos1Prob,
				Pos2Prob: t.Pos2Prob,
			}
		}
		out[g.Name] = teams
	}
	return out
}
