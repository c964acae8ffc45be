package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/ratings"
	"github.com/cpacia/cupforecast/tournament"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbToMoneyline(t *testing.T) {
	tests := []struct {
		p    float64
		want int
	}{
		{0, 0},
		{1, 0},
		{0.5, -100},
		{0.75, -300},
		{0.4, 150},
		{0.25, 300},
		{0.1, 900},
		{0.03, 3250},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, probToMoneyline(tt.p), "p=%v", tt.p)
	}
}

func sampleResult() *tournament.Result {
	return &tournament.Result{
		Iterations: 10,
		Groups: []tournament.GroupResult{
			{Name: "A", Teams: []tournament.TeamResult{
				{Code: "MEX", Name: "Mexico", Group: "A", WinProb: 0.1, FinalProb: 0.3},
				{Code: "RSA", Name: "South Africa", Group: "A"},
			}},
			{Name: "B", Teams: []tournament.TeamResult{
				{Code: "CAN", Name: "Canada", Group: "B", WinProb: 0.6, FinalProb: 0.7},
			}},
		},
	}
}

func TestMarketLines(t *testing.T) {
	lines := marketLines(sampleResult(), "title")
	require.Len(t, lines, 2)
	assert.Equal(t, "CAN", lines[0].Code)
	assert.Equal(t, -150, lines[0].MoneyLine)
	assert.Equal(t, "MEX", lines[1].Code)
	assert.Equal(t, 900, lines[1].MoneyLine)

	lines = marketLines(sampleResult(), "F")
	require.Len(t, lines, 2)
	assert.Equal(t, 0.7, lines[0].Prob)

	var buf bytes.Buffer
	require.NoError(t, printLines(&buf, marketLines(sampleResult(), "title"), 1))
	out := buf.String()
	assert.Contains(t, out, "Canada")
	assert.Contains(t, out, "60.00%")
	assert.NotContains(t, out, "Mexico")
}

func TestFetchResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tournament/simulation" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(sampleResult())
	}))
	defer server.Close()

	res, err := fetchResult(server.URL + "/api/tournament/simulation")
	require.NoError(t, err)
	assert.Equal(t, sampleResult(), res)

	_, err = fetchResult(server.URL + "/nope")
	assert.Error(t, err)
}

func TestLoadRatings(t *testing.T) {
	rows, err := loadRatings("", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 64)

	rows, err = loadRatings("", strings.NewReader(`[{"code":"ARG","name":"Argentina","rating":2100}]`))
	require.NoError(t, err)
	assert.Equal(t, "ARG", rows[0].Code)

	_, err = loadRatings("", strings.NewReader(`[]`))
	assert.ErrorIs(t, err, ratings.ErrNoRows)
	_, err = loadRatings("", strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestBuildInput(t *testing.T) {
	def, err := tournament.Default()
	require.NoError(t, err)
	rows, err := ratings.Seed()
	require.NoError(t, err)

	in := buildInput(def, elo.DefaultModel(), rows, tournament.DefaultRating)
	assert.Len(t, in.PlaceholderRatings, 6)
	for code, r := range in.PlaceholderRatings {
		assert.Greater(t, r, 1000.0, code)
		assert.Equal(t, float64(int(r)), r, code)
	}
	assert.Equal(t, 2165.0, in.Ratings["ESP"])
	assert.Equal(t, "Spain", in.Names["ESP"])
}
