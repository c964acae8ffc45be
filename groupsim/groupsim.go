// Package groupsim runs the standalone Monte Carlo of a single four-team
// round-robin group. Standings are ranked by points only; ties keep the
// order the teams were given in.
package groupsim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/montecarlo"
	"github.com/sirupsen/logrus"
)

const (
	GroupSize = 4

	DefaultIterations = 50_000

	// DefaultThirdPlaceRate is the share of third placed teams that reach
	// the knockout stage: 8 of 12 groups.
	DefaultThirdPlaceRate = 8.0 / 12.0

	// DefaultAssumedOpponentRating stands in for the unknown round-of-32
	// opponent in the pre-bracket round-of-16 estimate.
	DefaultAssumedOpponentRating = 1650.0
)

var ErrGroupSize = errors.New("group must have exactly 4 teams")

type Team struct {
	Code   string
	Name   string
	Rating float64
}

// TeamResult is the per-team output of a group simulation.
type TeamResult struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Rating float64 `json:"elo"`

	AvgWins   float64 `json:"avgWins"`
	AvgDraws  float64 `json:"avgDraws"`
	AvgLosses float64 `json:"avgLosses"`
	AvgPoints float64 `json:"avgPoints"`

	Pos1Prob float64 `json:"pos1Prob"`
	Pos2Prob float64 `json:"pos2Prob"`
	Pos3Prob float64 `json:"pos3Prob"`
	Pos4Prob float64 `json:"pos4Prob"`

	QualifyProb float64 `json:"qualifyProb"`

	// R16Prob uses DefaultAssumedOpponentRating instead of the bracket, so it
	// differs from the tournament simulator's figure on purpose.
	R16Prob float64 `json:"r16Prob"`
}

// Positions returns the four positional probabilities in order.
func (r TeamResult) Positions() [GroupSize]float64 {
	return [GroupSize]float64{r.Pos1Prob, r.Pos2Prob, r.Pos3Prob, r.Pos4Prob}
}

// Simulator holds the knobs of a group run. The zero value falls back to
// the package defaults.
type Simulator struct {
	Model                 elo.Model
	Iterations            int
	Workers               int
	Seed                  uint64
	ThirdPlaceRate        float64
	AssumedOpponentRating float64

	Log *logrus.Entry
}

func (s *Simulator) withDefaults() Simulator {
	c := *s
	if c.Model == (elo.Model{}) {
		c.Model = elo.DefaultModel()
	}
	if c.Iterations <= 0 {
		c.Iterations = DefaultIterations
	}
	if c.ThirdPlaceRate == 0 {
		c.ThirdPlaceRate = DefaultThirdPlaceRate
	}
	if c.AssumedOpponentRating == 0 {
		c.AssumedOpponentRating = DefaultAssumedOpponentRating
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

type tally struct {
	wins, draws, losses, points int64
	positions                   [GroupSize]int64
}

type pairing struct {
	a, b int
	odds elo.Outcome
}

func pairings(m elo.Model, teams []Team) []pairing {
	ps := make([]pairing, 0, 6)
	for i := 0; i < len(teams); i++ {
		for j := i + 1; j < len(teams); j++ {
			ps = append(ps, pairing{a: i, b: j, odds: m.MatchOutcome(teams[i].Rating, teams[j].Rating)})
		}
	}
	return ps
}

// Simulate plays the group Iterations times and returns one result per
// team, in input order.
func (s *Simulator) Simulate(ctx context.Context, teams []Team) ([]TeamResult, error) {
	if len(teams) != GroupSize {
		return nil, fmt.Errorf("%w: got %d", ErrGroupSize, len(teams))
	}
	cfg := s.withDefaults()
	start := time.Now()

	matches := pairings(cfg.Model, teams)
	shares := montecarlo.Partition(cfg.Iterations, cfg.Workers)
	perWorker := make([][GroupSize]tally, len(shares))

	err := montecarlo.Run(ctx, cfg.Seed, shares, func(w int, rng montecarlo.Source, n int, step func() error) error {
		local := &perWorker[w]
		var pts [GroupSize]int
		order := make([]int, GroupSize)
		for it := 0; it < n; it++ {
			if err := step(); err != nil {
				return err
			}
			pts = [GroupSize]int{}
			for _, m := range matches {
				r := rng.Float64()
				switch {
				case r < m.odds.Win:
					pts[m.a] += 3
					local[m.a].wins++
					local[m.b].losses++
				case r < m.odds.Win+m.odds.Draw:
					pts[m.a]++
					pts[m.b]++
					local[m.a].draws++
					local[m.b].draws++
				default:
					pts[m.b] += 3
					local[m.b].wins++
					local[m.a].losses++
				}
			}
			for i := range order {
				order[i] = i
				local[i].points += int64(pts[i])
			}
			sort.SliceStable(order, func(i, j int) bool { return pts[order[i]] > pts[order[j]] })
			for pos, idx := range order {
				local[idx].positions[pos]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total [GroupSize]tally
	for _, wt := range perWorker {
		for i := range wt {
			total[i].wins += wt[i].wins
			total[i].draws += wt[i].draws
			total[i].losses += wt[i].losses
			total[i].points += wt[i].points
			for p := range wt[i].positions {
				total[i].positions[p] += wt[i].positions[p]
			}
		}
	}

	n := float64(cfg.Iterations)
	out := make([]TeamResult, len(teams))
	for i, t := range teams {
		c := total[i]
		r := TeamResult{
			Code:      t.Code,
			Name:      t.Name,
			Rating:    t.Rating,
			AvgWins:   float64(c.wins) / n,
			AvgDraws:  float64(c.draws) / n,
			AvgLosses: float64(c.losses) / n,
			AvgPoints: float64(c.points) / n,
			Pos1Prob:  float64(c.positions[0]) / n,
			Pos2Prob:  float64(c.positions[1]) / n,
			Pos3Prob:  float64(c.positions[2]) / n,
			Pos4Prob:  float64(c.positions[3]) / n,
		}
		r.QualifyProb = r.Pos1Prob + r.Pos2Prob + r.Pos3Prob*cfg.ThirdPlaceRate
		r.R16Prob = r.QualifyProb * cfg.Model.KnockoutWin(t.Rating, cfg.AssumedOpponentRating)
		out[i] = r
	}

	cfg.Log.WithFields(logrus.Fields{
		"iterations": cfg.Iterations,
		"workers":    len(shares),
		"elapsed":    time.Since(start),
	}).Debug("group simulation finished")

	return out, nil
}
