package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cpacia/cupforecast/bracket"
	"github.com/cpacia/cupforecast/groupsim"
	"github.com/cpacia/cupforecast/playoff"
	"github.com/cpacia/cupforecast/ratings"
	"github.com/cpacia/cupforecast/tournament"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// snapshot is one ratings version as the simulators see it.
type snapshot struct {
	version uint
	rows    []ratings.Rating
	rating  map[string]float64
	name    map[string]string
}

func (s *snapshot) ratingOf(code string, fallback float64) float64 {
	if r, ok := s.rating[code]; ok {
		return r
	}
	return fallback
}

func (s *snapshot) nameOf(code string) string {
	if n, ok := s.name[code]; ok {
		return n
	}
	return code
}

type GroupTeam struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	Placeholder bool    `json:"placeholder"`
}

type GroupView struct {
	Name  string      `json:"name"`
	Teams []GroupTeam `json:"teams"`
}

type GroupSimulation struct {
	Name  string                `json:"name"`
	Teams []groupsim.TeamResult `json:"teams"`
}

// Forecast computes and caches every simulation output for the current
// ratings version.
type Forecast struct {
	db  *gorm.DB
	def *tournament.Definition
	cfg *Config
	log *logrus.Entry

	sf    singleflight.Group
	mu    sync.RWMutex
	cache map[string]any
}

func NewForecast(db *gorm.DB, def *tournament.Definition, cfg *Config, log *logrus.Entry) *Forecast {
	return &Forecast{
		db:    db,
		def:   def,
		cfg:   cfg,
		log:   log,
		cache: make(map[string]any),
	}
}

// Invalidate drops every cached result.
func (f *Forecast) Invalidate() {
	f.mu.Lock()
	f.cache = make(map[string]any)
	f.mu.Unlock()
}

func (f *Forecast) snapshot() (*snapshot, error) {
	rows, meta, err := loadRatings(f.db)
	if err != nil {
		return nil, err
	}
	rating, name := ratings.Index(rows)
	return &snapshot{version: meta.Version, rows: rows, rating: rating, name: name}, nil
}

// cached returns the value stored under kind for the current ratings
// version, computing it at most once across concurrent callers.
func cached[T any](ctx context.Context, f *Forecast, kind string, compute func(context.Context, *snapshot) (T, error)) (T, error) {
	var zero T
	snap, err := f.snapshot()
	if err != nil {
		return zero, err
	}
	key := fmt.Sprintf("%s/%d", kind, snap.version)

	f.mu.RLock()
	v, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return v.(T), nil
	}

	v, err, _ = f.sf.Do(key, func() (any, error) {
		// Detached: other callers may be waiting on this key.
		out, err := compute(context.WithoutCancel(ctx), snap)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[key] = out
		f.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Rankings returns the stored ratings, best first.
func (f *Forecast) Rankings() ([]ratings.Rating, error) {
	snap, err := f.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.rows, nil
}

func (f *Forecast) Playoffs(ctx context.Context) (*playoff.Resolved, error) {
	return cached(ctx, f, "playoffs", func(_ context.Context, snap *snapshot) (*playoff.Resolved, error) {
		defer observeSimulation("playoffs", time.Now())
		return f.resolvePlayoffs(snap), nil
	})
}

func (f *Forecast) playoffTeam(snap *snapshot, code string) playoff.Team {
	return playoff.Team{Code: code, Name: snap.nameOf(code), Rating: snap.ratingOf(code, f.cfg.Tournament.DefaultRating)}
}

func (f *Forecast) resolvePlayoffs(snap *snapshot) *playoff.Resolved {
	return playoff.Resolve(f.cfg.Model, f.def, func(code string) playoff.Team { return f.playoffTeam(snap, code) })
}

// Groups lists the group draw with ratings filled in. Playoff slots carry
// the expected rating of their winner.
func (f *Forecast) Groups(ctx context.Context) ([]GroupView, error) {
	playoffs, err := f.Playoffs(ctx)
	if err != nil {
		return nil, err
	}
	return cached(ctx, f, "groups", func(_ context.Context, snap *snapshot) ([]GroupView, error) {
		phRating := playoffs.PlaceholderRatings()
		phName := f.def.Placeholders()
		out := make([]GroupView, len(f.def.Groups))
		for i, g := range f.def.Groups {
			gv := GroupView{Name: g.Name}
			for _, code := range g.Slots {
				t := GroupTeam{Code: code}
				if r, ok := phRating[code]; ok {
					t.Name, t.Rating, t.Placeholder = phName[code], r, true
				} else {
					t.Name, t.Rating = snap.nameOf(code), snap.ratingOf(code, f.cfg.Tournament.DefaultRating)
				}
				gv.Teams = append(gv.Teams, t)
			}
			out[i] = gv
		}
		return out, nil
	})
}

// GroupSimulation runs the standalone group simulator on every group.
func (f *Forecast) GroupSimulation(ctx context.Context) ([]GroupSimulation, error) {
	groups, err := f.Groups(ctx)
	if err != nil {
		return nil, err
	}
	return cached(ctx, f, "groupsim", func(ctx context.Context, _ *snapshot) ([]GroupSimulation, error) {
		defer observeSimulation("groups", time.Now())
		sim := f.cfg.groupSimulator()
		sim.Log = f.log.WithField("simulator", "groups")

		out := make([]GroupSimulation, len(groups))
		for i, g := range groups {
			teams := make([]groupsim.Team, len(g.Teams))
			for j, t := range g.Teams {
				teams[j] = groupsim.Team{Code: t.Code, Name: t.Name, Rating: t.Rating}
			}
			res, err := sim.Simulate(ctx, teams)
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", g.Name, err)
			}
			out[i] = GroupSimulation{Name: g.Name, Teams: res}
		}
		return out, nil
	})
}

// Tournament runs the full Monte Carlo simulation.
func (f *Forecast) Tournament(ctx context.Context) (*tournament.Result, error) {
	playoffs, err := f.Playoffs(ctx)
	if err != nil {
		return nil, err
	}
	return cached(ctx, f, "tournament", func(ctx context.Context, snap *snapshot) (*tournament.Result, error) {
		defer observeSimulation("tournament", time.Now())
		sim := f.cfg.tournamentSimulator()
		sim.Log = f.log.WithField("simulator", "tournament")
		return sim.Simulate(ctx, tournament.Input{
			Definition:         f.def,
			Ratings:            snap.rating,
			Names:              snap.name,
			PlaceholderRatings: playoffs.PlaceholderRatings(),
		})
	})
}

// NewBracket builds a fresh bracket engine over the tournament result.
func (f *Forecast) NewBracket(ctx context.Context) (*bracket.Engine, error) {
	res, err := f.Tournament(ctx)
	if err != nil {
		return nil, err
	}
	cfg := f.cfg.bracketConfig()
	cfg.OnRecompute = observeRecompute
	cfg.Log = f.log.WithField("component", "bracket")
	return bracket.New(f.def, bracket.LeavesFromResult(res), cfg)
}
