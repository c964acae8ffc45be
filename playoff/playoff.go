// Package playoff computes exact outcome probabilities for the small
// fixed-shape playoff brackets that decide the last group slots.
package playoff

import (
	"math"
	"sort"

	"github.com/cpacia/cupforecast/elo"
)

const (
	HardThreshold   = 1700.0
	MediumThreshold = 1500.0
)

type Team struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Rating float64 `json:"elo"`
}

// Candidate is a playoff team together with its chance of winning the
// whole bracket.
type Candidate struct {
	Team
	Prob float64 `json:"prob"`
}

// Summary describes one resolved playoff. Candidates are sorted by Prob,
// highest first.
type Summary struct {
	Name        string      `json:"name"`
	Destination string      `json:"destinationGroup"`
	Placeholder string      `json:"placeholder"`
	Teams       []Candidate `json:"teams"`

	ExpectedRating float64 `json:"expectedElo"`
	MinRating      float64 `json:"minElo"`
	MaxRating      float64 `json:"maxElo"`
	Difficulty     string  `json:"difficulty"`
}

// DifficultyLabel grades an expected opponent rating.
func DifficultyLabel(rating float64) string {
	switch {
	case rating >= HardThreshold:
		return "Hard"
	case rating >= MediumThreshold:
		return "Medium"
	default:
		return "Easy"
	}
}

// ResolveBracket evaluates the three-team format: the two unseeded teams
// meet in a semifinal and the winner plays the seeded team.
func ResolveBracket(m elo.Model, seeded Team, unseeded [2]Team) Summary {
	u1, u2 := unseeded[0], unseeded[1]

	semi := m.KnockoutWin(u1.Rating, u2.Rating)
	seedBeatsU1 := m.KnockoutWin(seeded.Rating, u1.Rating)
	seedBeatsU2 := m.KnockoutWin(seeded.Rating, u2.Rating)

	return summarize([]Candidate{
		{Team: seeded, Prob: semi*seedBeatsU1 + (1-semi)*seedBeatsU2},
		{Team: u1, Prob: semi * (1 - seedBeatsU1)},
		{Team: u2, Prob: (1 - semi) * (1 - seedBeatsU2)},
	})
}

// ResolvePath evaluates the four-team format. Teams are seeded by rating,
// semifinals are 1v4 and 2v3, and all four possible finals are enumerated.
func ResolvePath(m elo.Model, teams [4]Team) Summary {
	seeds := teams
	sort.SliceStable(seeds[:], func(i, j int) bool { return seeds[i].Rating > seeds[j].Rating })

	// reach[i] is the probability that seed i wins its semifinal.
	var reach [4]float64
	reach[0] = m.KnockoutWin(seeds[0].Rating, seeds[3].Rating)
	reach[3] = 1 - reach[0]
	reach[1] = m.KnockoutWin(seeds[1].Rating, seeds[2].Rating)
	reach[2] = 1 - reach[1]

	top, bottom := [2]int{0, 3}, [2]int{1, 2}
	var win [4]float64
	for _, a := range top {
		for _, b := range bottom {
			final := reach[a] * reach[b]
			pa := m.KnockoutWin(seeds[a].Rating, seeds[b].Rating)
			win[a] += final * pa
			win[b] += final * (1 - pa)
		}
	}

	cands := make([]Candidate, 4)
	for i := range seeds {
		cands[i] = Candidate{Team: seeds[i], Prob: win[i]}
	}
	return summarize(cands)
}

func summarize(cands []Candidate) Summary {
	s := Summary{
		MinRating: math.Inf(1),
		MaxRating: math.Inf(-1),
	}
	for _, c := range cands {
		s.ExpectedRating += c.Prob * c.Rating
		s.MinRating = math.Min(s.MinRating, c.Rating)
		s.MaxRating = math.Max(s.MaxRating, c.Rating)
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Prob > cands[j].Prob })
	s.Teams = cands
	s.Difficulty = DifficultyLabel(s.ExpectedRating)
	return s
}

// TotalProb sums the candidates' win probabilities.
func (s Summary) TotalProb() float64 {
	var sum float64
	for _, c := range s.Teams {
		sum += c.Prob
	}
	return sum
}

// Prob returns the chance that code wins the playoff.
func (s Summary) Prob(code string) float64 {
	for _, c := range s.Teams {
		if c.Code == code {
			return c.Prob
		}
	}
	return 0
}
