package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cpacia/cupforecast/bracket"
	"github.com/cpacia/cupforecast/tournament"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, tournament.ThirdGreedy, cfg.tournamentSimulator().ThirdPlace)
	assert.Equal(t, bracket.ReachCertain, cfg.bracketConfig().Reach)

	cfg, err = loadConfig(writeConfig(t, `
tournament:
  iterations: 1000
  thirdPlace: matched
bracket:
  reach: weighted
workers: 3
`))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Tournament.Iterations)
	assert.Equal(t, tournament.DefaultRating, cfg.Tournament.DefaultRating)
	assert.Equal(t, tournament.ThirdMatched, cfg.tournamentSimulator().ThirdPlace)
	assert.Equal(t, bracket.ReachWeighted, cfg.bracketConfig().Reach)
	assert.Equal(t, 3, cfg.tournamentSimulator().Workers)

	cfg.apply(&Options{Iterations: 500, Seed: 9})
	assert.Equal(t, 500, cfg.Groups.Iterations)
	assert.Equal(t, 500, cfg.tournamentSimulator().Iterations)
	assert.Equal(t, uint64(9), cfg.groupSimulator().Seed)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoadConfig_errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "tournament: [\n"},
		{"third place policy", "tournament:\n  thirdPlace: random\n"},
		{"reach policy", "bracket:\n  reach: maybe\n"},
		{"iterations", "groups:\n  iterations: 0\n"},
		{"probability", "groups:\n  thirdPlaceRate: 1.5\n"},
		{"zero third place rate", "groups:\n  thirdPlaceRate: 0\n"},
		{"zero scale", "model:\n  scale: 0\n"},
		{"draw base", "model:\n  drawBase: 1.2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
