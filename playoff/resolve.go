package playoff

import (
	"math"

	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/tournament"
)

// Resolved holds every playoff of a tournament definition.
type Resolved struct {
	Intercontinental []Summary `json:"intercontinental"`
	UEFA             []Summary `json:"uefa"`
}

// Resolve computes every playoff in def. team supplies the rating and
// display name for a playoff entrant.
func Resolve(m elo.Model, def *tournament.Definition, team func(code string) Team) *Resolved {
	out := &Resolved{}
	for _, b := range def.Intercontinental {
		s := ResolveBracket(m, team(b.Seeded), [2]Team{team(b.Unseeded[0]), team(b.Unseeded[1])})
		s.Name, s.Destination, s.Placeholder = b.Name, b.Destination, b.Placeholder
		out.Intercontinental = append(out.Intercontinental, s)
	}
	for _, p := range def.UEFA {
		var teams [4]Team
		for i, code := range p.Teams {
			teams[i] = team(code)
		}
		s := ResolvePath(m, teams)
		s.Name, s.Destination, s.Placeholder = p.Name, p.Destination, p.Placeholder
		out.UEFA = append(out.UEFA, s)
	}
	return out
}

// PlaceholderRatings maps each placeholder to its expected winner rating,
// rounded the way it is displayed.
func (r *Resolved) PlaceholderRatings() map[string]float64 {
	out := make(map[string]float64, len(r.Intercontinental)+len(r.UEFA))
	for _, s := range r.Intercontinental {
		out[s.Placeholder] = math.Round(s.ExpectedRating)
	}
	for _, s := range r.UEFA {
		out[s.Placeholder] = math.Round(s.ExpectedRating)
	}
	return out
}
