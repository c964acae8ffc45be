package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/tournament"
	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

type options struct {
	API        string `long:"api" description:"Tournament simulation endpoint of a running server, e.g. http://localhost:8080/api/tournament/simulation"`
	RatingsURL string `long:"ratings" description:"Ratings page or .tsv; the built in snapshot is used if unset and stdin is empty"`
	Tournament string `long:"tournament" description:"Tournament definition file"`
	Round      string `long:"round" default:"title" choice:"title" choice:"F" choice:"SF" choice:"QF" choice:"R16" choice:"R32" description:"Market to price"`
	Iterations int    `long:"iterations" default:"20000" description:"Monte Carlo iterations"`
	Seed       uint64 `long:"seed" default:"1" description:"Random seed"`
	Top        int    `long:"top" default:"0" description:"Only print the first N teams"`
	Matched    bool   `long:"matched" description:"Fill third place slots with a full matching"`
}

// Convert win probability to rounded money-line odds
func probToMoneyline(p float64) int {
	if p <= 0 || p >= 1 {
		return 0
	}
	if p >= 0.5 {
		raw := -p / (1 - p) * 100
		return int(math.Round(raw/10)) * 10
	}
	raw := (1 - p) / p * 100
	if raw < 200 {
		return int(math.Ceil(raw/10)) * 10
	}
	return int(math.Ceil(raw/25)) * 25
}

type Line struct {
	Code      string
	Name      string
	Group     string
	Prob      float64
	MoneyLine int
}

// marketLines prices one market from a simulation. round is "title" or a
// knockout round reached.
func marketLines(res *tournament.Result, round string) []Line {
	var lines []Line
	for _, g := range res.Groups {
		for _, t := range g.Teams {
			p := t.WinProb
			if round != "title" {
				p = t.RoundProb(tournament.Round(round))
			}
			if p <= 0 {
				continue // eliminated in every iteration
			}
			lines = append(lines, Line{
				Code:      t.Code,
				Name:      t.Name,
				Group:     t.Group,
				Prob:      p,
				MoneyLine: probToMoneyline(p),
			})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Prob > lines[j].Prob })
	return lines
}

func printLines(w io.Writer, lines []Line, top int) error {
	if top > 0 && top < len(lines) {
		lines = lines[:top]
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Team\tGroup\tProb%\tOdds\t")
	for _, l := range lines {
		sign := "+"
		if l.MoneyLine < 0 {
			sign = ""
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f%%\t%s%d\t\n", l.Name, l.Group, l.Prob*100, sign, l.MoneyLine)
	}
	return tw.Flush()
}

func simulate(opts *options, log *logrus.Entry) (*tournament.Result, error) {
	def, err := tournament.Default()
	if opts.Tournament != "" {
		def, err = tournament.Load(opts.Tournament)
	}
	if err != nil {
		return nil, err
	}

	var stdin io.Reader
	if opts.RatingsURL == "" && stdinHasData() {
		stdin = os.Stdin
	}
	rows, err := loadRatings(opts.RatingsURL, stdin)
	if err != nil {
		return nil, fmt.Errorf("ratings: %w", err)
	}

	m := elo.DefaultModel()
	sim := &tournament.Simulator{
		Model:      m,
		Iterations: opts.Iterations,
		Seed:       opts.Seed,
		Log:        log,
	}
	if opts.Matched {
		sim.ThirdPlace = tournament.ThirdMatched
	}
	return sim.Simulate(context.Background(), buildInput(def, m, rows, tournament.DefaultRating))
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	log := logrus.WithField("cmd", "odds")

	var (
		res *tournament.Result
		err error
	)
	if opts.API != "" {
		res, err = fetchResult(opts.API)
	} else {
		res, err = simulate(&opts, log)
	}
	if err != nil {
		log.Fatalf("forecast failed: %v", err)
	}

	fmt.Printf("%s odds, %d iterations\n", strings.ToUpper(opts.Round), res.Iterations)
	if err := printLines(os.Stdout, marketLines(res, opts.Round), opts.Top); err != nil {
		log.Fatal(err)
	}
}

func stdinHasData() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) == 0
}
