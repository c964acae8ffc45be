// Package tournament holds the declarative tournament definition and the
// full Monte Carlo simulation of group stage plus knockout bracket.
package tournament

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/montecarlo"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DefaultIterations = 50_000

	// DefaultRating replaces a missing rating, typically a team whose
	// playoff has not been decided.
	DefaultRating = 1400.0

	DefaultMarginBase  = 0.5
	DefaultMarginScale = 400.0

	// maxExtraGoals caps the sampled winning margin at 1+maxExtraGoals.
	maxExtraGoals = 9
)

// ThirdPlacePolicy decides how qualified third placed teams are slotted
// into the Round of 32.
type ThirdPlacePolicy int

const (
	// ThirdGreedy walks the pool slots in bracket order and hands each one
	// the best ranked remaining qualifier from its pool. A slot with no
	// match stays empty and its match is skipped.
	ThirdGreedy ThirdPlacePolicy = iota

	// ThirdMatched finds a maximum matching between qualifiers and pool
	// slots, so every slot is filled whenever an assignment exists.
	ThirdMatched
)

// Input carries the ratings side of a run.
type Input struct {
	Definition *Definition
	Ratings    map[string]float64
	Names      map[string]string

	// PlaceholderRatings holds the expected rating of each undecided
	// playoff slot, keyed by placeholder code.
	PlaceholderRatings map[string]float64
}

type Simulator struct {
	Model         elo.Model
	Iterations    int
	Workers       int
	Seed          uint64
	DefaultRating float64
	MarginBase    float64
	MarginScale   float64
	ThirdPlace    ThirdPlacePolicy

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
	if c.DefaultRating == 0 {
		c.DefaultRating = DefaultRating
	}
	if c.MarginBase == 0 {
		c.MarginBase = DefaultMarginBase
	}
	if c.MarginScale == 0 {
		c.MarginScale = DefaultMarginScale
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

type TeamResult struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Group  string  `json:"group"`
	Rating float64 `json:"elo"`

	Pos1Prob float64 `json:"pos1Prob"`
	Pos2Prob float64 `json:"pos2Prob"`
	Pos3Prob float64 `json:"pos3Prob"`
	Pos4Prob float64 `json:"pos4Prob"`

	// ThirdQualifyProb is the chance of going through as one of the best
	// third placed teams.
	ThirdQualifyProb float64 `json:"thirdQualifyProb"`

	R32Prob   float64 `json:"r32Prob"`
	R16Prob   float64 `json:"r16Prob"`
	QFProb    float64 `json:"qfProb"`
	SFProb    float64 `json:"sfProb"`
	FinalProb float64 `json:"finalProb"`
	WinProb   float64 `json:"winProb"`
}

// Positions returns the four positional probabilities in order.
func (t TeamResult) Positions() [4]float64 {
	return [4]float64{t.Pos1Prob, t.Pos2Prob, t.Pos3Prob, t.Pos4Prob}
}

// RoundProb returns the probability of reaching r.
func (t TeamResult) RoundProb(r Round) float64 {
	switch r {
	case RoundOf32:
		return t.R32Prob
	case RoundOf16:
		return t.R16Prob
	case QuarterFinal:
		return t.QFProb
	case SemiFinal:
		return t.SFProb
	case Final:
		return t.FinalProb
	}
	return 0
}

type GroupResult struct {
	Name  string       `json:"name"`
	Teams []TeamResult `json:"teams"`
}

type Result struct {
	Iterations int           `json:"iterations"`
	Groups     []GroupResult `json:"groups"`
}

// Team looks a team up by code.
func (r *Result) Team(code string) (TeamResult, bool) {
	for _, g := range r.Groups {
		for _, t := range g.Teams {
			if t.Code == code {
				return t, true
			}
		}
	}
	return TeamResult{}, false
}

// Standing is one team's line in a simulated group table.
type Standing struct {
	Group    int
	Team     int
	Points   int
	GoalDiff int
	Rating   float64
}

// Outranks orders standings by points, then goal difference, then rating.
func Outranks(a, b Standing) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.GoalDiff != b.GoalDiff {
		return a.GoalDiff > b.GoalDiff
	}
	return a.Rating > b.Rating
}

// SelectThirds ranks the third placed teams and returns the best n, best
// first. Teams that compare equal keep their group order.
func SelectThirds(thirds []Standing, n int) []Standing {
	ranked := make([]Standing, len(thirds))
	copy(ranked, thirds)
	sort.SliceStable(ranked, func(i, j int) bool { return Outranks(ranked[i], ranked[j]) })
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

type simTeam struct {
	code, name string
	group      int
	rating     float64
}

type groupMatch struct {
	a, b int // team index within the group
	odds elo.Outcome

	// cdfA and cdfB are Poisson CDFs of extra goals when a or b wins.
	cdfA, cdfB []float64
}

type r32Slot struct {
	kind  SlotKind
	group int
	pool  []bool // indexed by group, ThirdPlacePool only
	index int    // position among the pool slots
}

type koMatch struct {
	round int
	slots [2]r32Slot // round 0 only
	from  [2]int     // match indexes, later rounds
}

type plan struct {
	teams   []simTeam // group g owns teams[4g:4g+4]
	groups  [][]groupMatch
	ko      []koMatch
	koOdds  [][]float64 // koOdds[i][j] = P(team i beats team j)
	thirdsN int
	pools   [][]bool
	policy  ThirdPlacePolicy
}

func (s *Simulator) buildPlan(in Input) (*plan, error) {
	def := in.Definition
	if def == nil || def.groupIndex == nil {
		return nil, fmt.Errorf("%w: definition not validated", ErrInvalidDefinition)
	}
	placeholders := def.Placeholders()

	p := &plan{thirdsN: def.ThirdPlaceQualifiers, policy: s.ThirdPlace}
	for g, gd := range def.Groups {
		for _, code := range gd.Slots {
			t := simTeam{code: code, name: in.Names[code], group: g}
			rating, ok := in.Ratings[code]
			if pr, isPH := in.PlaceholderRatings[code]; isPH {
				rating, ok = pr, true
			}
			if !ok {
				s.Log.WithField("team", code).Debug("no rating, using default")
				rating = s.DefaultRating
			}
			t.rating = rating
			if t.name == "" {
				t.name = placeholders[code]
			}
			if t.name == "" {
				t.name = code
			}
			p.teams = append(p.teams, t)
		}
	}

	p.groups = make([][]groupMatch, len(def.Groups))
	for g := range def.Groups {
		for i := 0; i < 4; i++ {
			for j := i + 1; j < 4; j++ {
				a, b := p.teams[4*g+i], p.teams[4*g+j]
				p.groups[g] = append(p.groups[g], groupMatch{
					a:    i,
					b:    j,
					odds: s.Model.MatchOutcome(a.rating, b.rating),
					cdfA: s.marginCDF(a.rating - b.rating),
					cdfB: s.marginCDF(b.rating - a.rating),
				})
			}
		}
	}

	p.koOdds = make([][]float64, len(p.teams))
	for i, a := range p.teams {
		p.koOdds[i] = make([]float64, len(p.teams))
		for j, b := range p.teams {
			p.koOdds[i][j] = s.Model.KnockoutWin(a.rating, b.rating)
		}
	}

	for _, m := range def.Knockout {
		km := koMatch{round: m.Round.Index()}
		if m.Round == RoundOf32 {
			for k, raw := range m.Slots {
				slot, err := ParseSlot(raw)
				if err != nil {
					return nil, fmt.Errorf("match %d: %w", m.ID, err)
				}
				rs := r32Slot{kind: slot.Kind}
				if slot.Kind == ThirdPlacePool {
					rs.pool = make([]bool, len(def.Groups))
					for _, r := range slot.Pool {
						rs.pool[def.groupIndex[string(r)]] = true
					}
					rs.index = len(p.pools)
					p.pools = append(p.pools, rs.pool)
				} else {
					rs.group = def.groupIndex[slot.Group]
				}
				km.slots[k] = rs
			}
		} else {
			km.from = [2]int{def.matchIndex[m.From[0]], def.matchIndex[m.From[1]]}
		}
		p.ko = append(p.ko, km)
	}
	return p, nil
}

// marginCDF tabulates P(extra goals <= k) for a winner that is diff rating
// points stronger than the loser.
func (s *Simulator) marginCDF(diff float64) []float64 {
	lambda := s.MarginBase
	if diff > 0 {
		lambda += diff / s.MarginScale
	}
	dist := distuv.Poisson{Lambda: lambda}
	cdf := make([]float64, maxExtraGoals+1)
	for k := range cdf {
		cdf[k] = dist.CDF(float64(k))
	}
	return cdf
}

// margin maps a uniform value to a winning margin through the inverse CDF.
func margin(cdf []float64, u float64) int {
	for k, c := range cdf {
		if u < c {
			return 1 + k
		}
	}
	return 1 + len(cdf)
}

type counters struct {
	pos   [][4]int64
	third []int64
	reach [][roundsTracked]int64
	title []int64
}

func newCounters(n int) *counters {
	return &counters{
		pos:   make([][4]int64, n),
		third: make([]int64, n),
		reach: make([][roundsTracked]int64, n),
		title: make([]int64, n),
	}
}

func (c *counters) add(o *counters) {
	for i := range c.pos {
		for k := range c.pos[i] {
			c.pos[i][k] += o.pos[i][k]
		}
		for k := range c.reach[i] {
			c.reach[i][k] += o.reach[i][k]
		}
		c.third[i] += o.third[i]
		c.title[i] += o.title[i]
	}
}

// worker holds the scratch state of one goroutine.
type worker struct {
	p         *plan
	rng       montecarlo.Source
	c         *counters
	table     [][4]Standing
	thirds    []Standing
	qualified []Standing
	winners   []int

	// ThirdMatched scratch.
	assigned []int
	owner    []int
	seen     []bool
}

func newWorker(p *plan, rng montecarlo.Source) *worker {
	return &worker{
		p:        p,
		rng:      rng,
		c:        newCounters(len(p.teams)),
		table:    make([][4]Standing, len(p.groups)),
		thirds:   make([]Standing, len(p.groups)),
		winners:  make([]int, len(p.ko)),
		assigned: make([]int, len(p.pools)),
		owner:    make([]int, len(p.groups)),
		seen:     make([]bool, len(p.groups)),
	}
}

// playGroup simulates one group and leaves its ranked table in w.table[g].
func (w *worker) playGroup(g int) {
	var pts, gd [4]int
	for _, m := range w.p.groups[g] {
		u := w.rng.Float64()
		switch {
		case u < m.odds.Win:
			goals := margin(m.cdfA, u/m.odds.Win)
			pts[m.a] += 3
			gd[m.a] += goals
			gd[m.b] -= goals
		case u < m.odds.Win+m.odds.Draw:
			pts[m.a]++
			pts[m.b]++
		default:
			goals := margin(m.cdfB, (u-m.odds.Win-m.odds.Draw)/m.odds.Loss)
			pts[m.b] += 3
			gd[m.b] += goals
			gd[m.a] -= goals
		}
	}
	row := &w.table[g]
	for i := 0; i < 4; i++ {
		row[i] = Standing{Group: g, Team: 4*g + i, Points: pts[i], GoalDiff: gd[i], Rating: w.p.teams[4*g+i].rating}
	}
	sort.SliceStable(row[:], func(i, j int) bool { return Outranks(row[i], row[j]) })
	for pos, st := range row {
		w.c.pos[st.Team][pos]++
	}
}

// resolveSlot returns the team filling an R32 slot, or -1 if the slot stays
// empty this iteration.
func (w *worker) resolveSlot(s r32Slot) int {
	switch s.kind {
	case GroupWinner:
		return w.table[s.group][0].Team
	case GroupRunnerUp:
		return w.table[s.group][1].Team
	}
	if w.p.policy == ThirdMatched {
		return w.assigned[s.index]
	}
	for i, q := range w.qualified {
		if s.pool[q.Group] {
			w.qualified = append(w.qualified[:i], w.qualified[i+1:]...)
			return q.Team
		}
	}
	return -1
}

// matchThirds fills w.assigned with augmenting paths. Earlier slots try
// better ranked qualifiers first.
func (w *worker) matchThirds() {
	owner := w.owner[:len(w.qualified)]
	for i := range owner {
		owner[i] = -1
	}
	for s := range w.p.pools {
		clear(w.seen)
		w.augment(s, owner)
	}
	for s := range w.assigned {
		w.assigned[s] = -1
	}
	for qi, s := range owner {
		if s >= 0 {
			w.assigned[s] = w.qualified[qi].Team
		}
	}
}

func (w *worker) augment(slot int, owner []int) bool {
	for qi, q := range w.qualified {
		if !w.p.pools[slot][q.Group] || w.seen[qi] {
			continue
		}
		w.seen[qi] = true
		if owner[qi] < 0 || w.augment(owner[qi], owner) {
			owner[qi] = slot
			return true
		}
	}
	return false
}

func (w *worker) iterate() {
	for g := range w.p.groups {
		w.playGroup(g)
		w.thirds[g] = w.table[g][2]
	}

	best := SelectThirds(w.thirds, w.p.thirdsN)
	w.qualified = append(w.qualified[:0], best...)
	for _, q := range best {
		w.c.third[q.Team]++
	}
	if w.p.policy == ThirdMatched {
		w.matchThirds()
	}

	for i, m := range w.p.ko {
		var a, b int
		if m.round == 0 {
			a, b = w.resolveSlot(m.slots[0]), w.resolveSlot(m.slots[1])
		} else {
			a, b = w.winners[m.from[0]], w.winners[m.from[1]]
		}
		if a >= 0 {
			w.c.reach[a][m.round]++
		}
		if b >= 0 {
			w.c.reach[b][m.round]++
		}
		if a < 0 || b < 0 {
			w.winners[i] = -1
			continue
		}
		if w.rng.Float64() < w.p.koOdds[a][b] {
			w.winners[i] = a
		} else {
			w.winners[i] = b
		}
		if m.round == roundsTracked-1 {
			w.c.title[w.winners[i]]++
		}
	}
}

// Simulate plays the whole tournament Iterations times.
func (s *Simulator) Simulate(ctx context.Context, in Input) (*Result, error) {
	cfg := s.withDefaults()
	start := time.Now()

	p, err := cfg.buildPlan(in)
	if err != nil {
		return nil, err
	}

	shares := montecarlo.Partition(cfg.Iterations, cfg.Workers)
	perWorker := make([]*counters, len(shares))
	err = montecarlo.Run(ctx, cfg.Seed, shares, func(i int, rng montecarlo.Source, n int, step func() error) error {
		w := newWorker(p, rng)
		perWorker[i] = w.c
		for it := 0; it < n; it++ {
			if err := step(); err != nil {
				return err
			}
			w.iterate()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := newCounters(len(p.teams))
	for _, c := range perWorker {
		total.add(c)
	}

	res := cfg.collect(in.Definition, p, total)
	cfg.Log.WithFields(logrus.Fields{
		"iterations": cfg.Iterations,
		"workers":    len(shares),
		"elapsed":    time.Since(start),
	}).Info("tournament simulation finished")
	return res, nil
}

func (s *Simulator) collect(def *Definition, p *plan, c *counters) *Result {
	n := float64(s.Iterations)
	res := &Result{Iterations: s.Iterations, Groups: make([]GroupResult, len(def.Groups))}
	for g, gd := range def.Groups {
		teams := make([]TeamResult, 4)
		for i := range teams {
			idx := 4*g + i
			t := p.teams[idx]
			teams[i] = TeamResult{
				Code:             t.code,
				Name:             t.name,
				Group:            gd.Name,
				Rating:           t.rating,
				Pos1Prob:         float64(c.pos[idx][0]) / n,
				Pos2Prob:         float64(c.pos[idx][1]) / n,
				Pos3Prob:         float64(c.pos[idx][2]) / n,
				Pos4Prob:         float64(c.pos[idx][3]) / n,
				ThirdQualifyProb: float64(c.third[idx]) / n,
				R32Prob:          float64(c.reach[idx][0]) / n,
				R16Prob:          float64(c.reach[idx][1]) / n,
				QFProb:           float64(c.reach[idx][2]) / n,
				SFProb:           float64(c.reach[idx][3]) / n,
				FinalProb:        float64(c.reach[idx][4]) / n,
				WinProb:          float64(c.title[idx]) / n,
			}
		}
		sort.SliceStable(teams, func(i, j int) bool { return teams[i].R32Prob > teams[j].R32Prob })
		res.Groups[g] = GroupResult{Name: gd.Name, Teams: teams}
	}
	return res
}

// String renders a compact table, mostly for debugging.
func (r *Result) String() string {
	var b strings.Builder
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "Group %s\n", g.Name)
		for _, t := range g.Teams {
			fmt.Fprintf(&b, "  %-6s r32=%.3f r16=%.3f qf=%.3f sf=%.3f f=%.3f win=%.3f\n",
				t.Code, t.R32Prob, t.R16Prob, t.QFProb, t.SFProb, t.FinalProb, t.WinProb)
		}
	}
	return b.String()
}
