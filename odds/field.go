// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cpacia/cupforecast/elo"
	"github.com/cpacia/cupforecast/playoff"
	"github.com/cpacia/cupforecast/ratings"
	"github.com/cpacia/cupforecast/tournament"
)

// fetchResult downloads a finished simulation from a running server.
func fetchResult(apiURL string) (*tournament.Result, error) {
	resp, err := http.Get(apiURL)
	if err != nil {
		return nil, fmt.Errorf("simulation GET: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("simulation GET %s: %s", apiURL, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read simulation: %w", err)
	}
	var res tournament.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode simulation JSON: %w", err)
	}
	if len(res.Groups) == 0 {
		return nil, fmt.Errorf("simulation from %s has no groups", apiURL)
	}
	return &res, nil
}

// loadRatings reads ratings from url, from a JSON array on r, or falls
// back to the built in snapshot.
func loadRatings(url string, r io.Reader) ([]ratings.Rating, error) {
	switch {
	case url != "":
		return ratings.Fetch(url)
	case r != nil:
		var rows []ratings.Rating
		if err := json.NewDecoder(r).Decode(&rows); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if len(rows) == 0 {
			return nil, ratings.ErrNoRows
		}
		return rows, nil
	default:
		return ratings.Seed()
	}
}

// buildInput resolves the playoffs and packs everything the simulator
// needs.
func buildInput(def *tournament.Definition, m elo.Model, rows []ratings.Rating, fallback float64) tournament.Input {
	rating, name := ratings.Index(rows)
	team := func(code string) playoff.Team {
		t := playoff.Team{Code: code, Name: code, Rating: fallback}
		if r, ok := rating[code]; ok {
			t.Rating = r
		}
		if n, ok := name[code]; ok {
			t.Name = n
		}
		return t
	}

	return tournament.Input{
		Definition:         def,
		Ratings:            rating,
		Names:              name,
		PlaceholderRatings: playoff.Resolve(m, def, team).PlaceholderRatings(),
	}
}
