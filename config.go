package main

import (
	"fmt"
	"os"

	"github.com/cpacia/cupforecast/bracket"
	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/groupsim"
	"github.com/cpacia/cupforecast/tournament"
	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v2"
)

// Options are the command line flags.
type Options struct {
	Listen     string   `long:"listen" default:":8080" description:"HTTP listen address"`
	DataDir    string   `long:"datadir" description:"Directory holding the database (default ~/.cupforecast)"`
	Config     string   `long:"config" description:"YAML file with model and simulation settings"`
	Tournament string   `long:"tournament" description:"Tournament definition (.yaml, .yml or .json); the 2026 format is built in"`
	RatingsURL string   `long:"ratingsurl" default:"https://www.eloratings.net/World.tsv" description:"Ratings page or .tsv used by refresh"`
	Iterations int      `long:"iterations" description:"Monte Carlo iterations, overrides the config file"`
	Workers    int      `long:"workers" description:"Simulation goroutines (default NumCPU)"`
	Seed       uint64   `long:"seed" description:"Random seed; 0 picks one at startup"`
	Origins    []string `long:"origin" description:"Allowed CORS origin, repeatable"`
	RateLimit  string   `long:"ratelimit" default:"60-M" description:"Request rate for simulation routes, e.g. 60-M"`
	JWTKey     string   `long:"jwtkey" env:"CUPFORECAST_JWT_KEY" description:"Hex encoded HMAC key for auth tokens"`
	Dev        bool     `long:"dev" description:"Development mode: plain cookies, debug logging"`
	LogLevel   string   `long:"loglevel" default:"info" description:"Log level"`
}

type GroupSettings struct {
	Iterations            int     `yaml:"iterations" validate:"gt=0"`
	ThirdPlaceRate        float64 `yaml:"thirdPlaceRate" validate:"gt=0,lte=1"`
	AssumedOpponentRating float64 `yaml:"assumedOpponentRating" validate:"gt=0"`
}

type TournamentSettings struct {
	Iterations    int     `yaml:"iterations" validate:"gt=0"`
	DefaultRating float64 `yaml:"defaultRating" validate:"gt=0"`
	MarginBase    float64 `yaml:"marginBase" validate:"gt=0"`
	MarginScale   float64 `yaml:"marginScale" validate:"gt=0"`
	ThirdPlace    string  `yaml:"thirdPlace" validate:"oneof=greedy matched"`
}

type BracketSettings struct {
	Reach             string  `yaml:"reach" validate:"oneof=certain weighted"`
	PlaceholderRating float64 `yaml:"placeholderRating" validate:"gt=0"`
	ThirdApproxProb   float64 `yaml:"thirdApproxProb" validate:"gt=0,lte=1"`
}

// Config holds the model constants and simulation settings. Every field
// has a default; a YAML file only needs the values it changes.
type Config struct {
	Model      elo.Model          `yaml:"model"`
	Groups     GroupSettings      `yaml:"groups"`
	Tournament TournamentSettings `yaml:"tournament"`
	Bracket    BracketSettings    `yaml:"bracket"`
	Workers    int                `yaml:"workers" validate:"gte=0"`
	Seed       uint64             `yaml:"seed"`
}

func defaultConfig() *Config {
	return &Config{
		Model: elo.DefaultModel(),
		Groups: GroupSettings{
			Iterations:            groupsim.DefaultIterations,
			ThirdPlaceRate:        groupsim.DefaultThirdPlaceRate,
			AssumedOpponentRating: groupsim.DefaultAssumedOpponentRating,
		},
		Tournament: TournamentSettings{
			Iterations:    tournament.DefaultIterations,
			DefaultRating: tournament.DefaultRating,
			MarginBase:    tournament.DefaultMarginBase,
			MarginScale:   tournament.DefaultMarginScale,
			ThirdPlace:    "greedy",
		},
		Bracket: BracketSettings{
			Reach:             "certain",
			PlaceholderRating: bracket.DefaultPlaceholderRating,
			ThirdApproxProb:   bracket.DefaultThirdApproxProb,
		},
	}
}

var validate = validator.New()

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("bad config YAML: %w", err)
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// apply folds command line overrides into the config.
func (c *Config) apply(opts *Options) {
	if opts.Iterations > 0 {
		c.Groups.Iterations = opts.Iterations
		c.Tournament.Iterations = opts.Iterations
	}
	if opts.Workers > 0 {
		c.Workers = opts.Workers
	}
	if opts.Seed != 0 {
		c.Seed = opts.Seed
	}
}

func (c *Config) groupSimulator() *groupsim.Simulator {
	return &groupsim.Simulator{
		Model:                 c.Model,
		Iterations:            c.Groups.Iterations,
		Workers:               c.Workers,
		Seed:                  c.Seed,
		ThirdPlaceRate:        c.Groups.ThirdPlaceRate,
		AssumedOpponentRating: c.Groups.AssumedOpponentRating,
	}
}

func (c *Config) tournamentSimulator() *tournament.Simulator {
	policy := tournament.ThirdGreedy
	if c.Tournament.ThirdPlace == "matched" {
		policy = tournament.ThirdMatched
	}
	return &tournament.Simulator{
		Model:         c.Model,
		Iterations:    c.Tournament.Iterations,
		Workers:       c.Workers,
		Seed:          c.Seed,
		DefaultRating: c.Tournament.DefaultRating,
		MarginBase:    c.Tournament.MarginBase,
		MarginScale:   c.Tournament.MarginScale,
		ThirdPlace:    policy,
	}
}

func (c *Config) bracketConfig() bracket.Config {
	reach := bracket.ReachCertain
	if c.Bracket.Reach == "weighted" {
		reach = bracket.ReachWeighted
	}
	return bracket.Config{
		Model:             c.Model,
		Reach:             reach,
		PlaceholderRating: c.Bracket.PlaceholderRating,
		ThirdApproxProb:   c.Bracket.ThirdApproxProb,
	}
}
