// Copyright (c) 2022 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cpacia/cupforecast/tournament"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	db, err := initDatabase(t.TempDir())
	require.NoError(t, err)

	opts := &Options{
		Iterations: 2000,
		Workers:    2,
		Seed:       42,
		RateLimit:  "1000-M",
		Dev:        true,
	}
	if mutate != nil {
		mutate(opts)
	}
	cfg := defaultConfig()
	cfg.apply(opts)

	def, err := tournament.Default()
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	s, err := newServer(db, def, cfg, opts, logrus.NewEntry(log))
	require.NoError(t, err)
	return s
}

func (s *Server) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func login(t *testing.T, s *Server, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/login", "", Credentials{Username: "admin", Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct {
		Token string `json:"token"`
	}](t, rec).Token
}

type matchJSON struct {
	ID           int `json:"id"`
	Participants [2]*struct {
		Code  string  `json:"code"`
		Reach float64 `json:"reach"`
	} `json:"participants"`
	Locked *struct {
		Code string `json:"code"`
	} `json:"locked"`
	Contenders []struct {
		Code          string  `json:"code"`
		CumulativeWin float64 `json:"cumulativeWin"`
	} `json:"contenders"`
}

type bracketJSON struct {
	SessionID string            `json:"sessionId"`
	Version   uint64            `json:"version"`
	Action    string            `json:"action"`
	Locks     map[string]string `json:"locks"`
	Matches   []matchJSON       `json:"matches"`
}

func newBracket(t *testing.T, s *Server) bracketJSON {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/bracket", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decode[bracketJSON](t, rec)
	require.NotEmpty(t, b.SessionID)
	require.Len(t, b.Matches, 31)
	return b
}

func TestServer_POSTLoginHandler(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/login", "", Credentials{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/login", "", Credentials{Username: "nobody", Password: "letmein"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := login(t, s, "letmein")
	assert.NotEmpty(t, token)

	rec = s.do(t, http.MethodPost, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[struct {
		Authenticated bool   `json:"authenticated"`
		Username      string `json:"username"`
		Scenarios     int64  `json:"scenarios"`
	}](t, rec)
	assert.True(t, me.Authenticated)
	assert.Equal(t, "admin", me.Username)
	assert.Zero(t, me.Scenarios)

	rec = s.do(t, http.MethodPost, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_POSTChangePasswordHandler(t *testing.T) {
	s := newTestServer(t, nil)
	token := login(t, s, "letmein")

	rec := s.do(t, http.MethodPost, "/changepw", "", PWChangeRequest{CurrentPassword: "letmein", NewPassword: "correcthorse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/changepw", token, PWChangeRequest{CurrentPassword: "letmein", NewPassword: "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/changepw", token, PWChangeRequest{CurrentPassword: "nope", NewPassword: "correcthorse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/changepw", token, PWChangeRequest{CurrentPassword: "letmein", NewPassword: "correcthorse"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotEmpty(t, login(t, s, "correcthorse"))
}

func TestServer_authMiddleware(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/ratings/refresh", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := newTestServer(t, nil)
	token := login(t, other, "letmein")
	rec = s.do(t, http.MethodPost, "/api/ratings/refresh", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "token signed with another key")
}

func TestServer_GETRankings(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/rankings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Rankings []struct {
			Rank   int     `json:"rank"`
			Code   string  `json:"code"`
			Rating float64 `json:"rating"`
		} `json:"rankings"`
		Version uint   `json:"version"`
		Source  string `json:"source"`
	}](t, rec)
	assert.Len(t, out.Rankings, 64)
	assert.Equal(t, "ESP", out.Rankings[0].Code)
	assert.Equal(t, 1, out.Rankings[0].Rank)
	assert.Equal(t, uint(1), out.Version)
	assert.Equal(t, "seed", out.Source)
}

func TestServer_GETGroupsAndPlayoffs(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/playoffs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	playoffs := decode[struct {
		Intercontinental []json.RawMessage `json:"intercontinental"`
		UEFA             []json.RawMessage `json:"uefa"`
	}](t, rec)
	assert.Len(t, playoffs.Intercontinental, 2)
	assert.Len(t, playoffs.UEFA, 4)

	rec = s.do(t, http.MethodGet, "/api/groups", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[struct {
		Groups []GroupView `json:"groups"`
	}](t, rec).Groups
	require.Len(t, groups, 12)

	placeholders := 0
	for _, g := range groups {
		assert.Len(t, g.Teams, 4)
		for _, team := range g.Teams {
			assert.Greater(t, team.Rating, 0.0)
			if team.Placeholder {
				placeholders++
				assert.Equal(t, float64(int(team.Rating)), team.Rating, "placeholder ratings are rounded")
			}
		}
	}
	assert.Equal(t, 6, placeholders)
}

func TestServer_GETGroupSimulation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/groups/simulation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Iterations int               `json:"iterations"`
		Groups     []GroupSimulation `json:"groups"`
	}](t, rec)
	assert.Equal(t, 2000, out.Iterations)
	require.Len(t, out.Groups, 12)
	for _, g := range out.Groups {
		var first float64
		for _, team := range g.Teams {
			first += team.Pos1Prob
		}
		assert.InDelta(t, 1.0, first, 1e-9, g.Name)
	}
}

func TestServer_GETTournamentSimulation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/tournament/simulation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := rec.Body.String()

	res := decode[tournament.Result](t, rec)
	assert.Equal(t, 2000, res.Iterations)
	require.Len(t, res.Groups, 12)

	var thirds float64
	for _, g := range res.Groups {
		for _, team := range g.Teams {
			thirds += team.ThirdQualifyProb
		}
	}
	assert.InDelta(t, 8.0, thirds, 1e-9)

	// Served from the cache until the ratings change.
	rec = s.do(t, http.MethodGet, "/api/tournament/simulation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, rec.Body.String())
}

func TestServer_simulationRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.RateLimit = "1-M" })

	rec := s.do(t, http.MethodGet, "/api/groups/simulation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/groups/simulation", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Plain reads are not limited.
	rec = s.do(t, http.MethodGet, "/api/rankings", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_bracketSession(t *testing.T) {
	s := newTestServer(t, nil)
	b := newBracket(t, s)
	base := "/api/bracket/" + b.SessionID

	rec := s.do(t, http.MethodGet, base+"/matches/73", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m73 := decode[matchJSON](t, rec)
	require.Equal(t, 73, m73.ID)
	require.NotNil(t, m73.Participants[0])
	require.NotNil(t, m73.Participants[1])
	assert.Equal(t, 1.0, m73.Participants[0].Reach)
	team := m73.Participants[0].Code

	rec = s.do(t, http.MethodGet, base+"/matches/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, base+"/matches/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/bracket/00000000-0000-0000-0000-000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Lock.
	rec = s.do(t, http.MethodPost, base+"/override", "", OverrideRequest{MatchID: 73, Team: team})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	locked := decode[bracketJSON](t, rec)
	assert.Equal(t, "lock", locked.Action)
	assert.Equal(t, map[string]string{"73": team}, locked.Locks)
	for _, m := range locked.Matches {
		if m.ID != 73 {
			continue
		}
		require.NotNil(t, m.Locked)
		assert.Equal(t, team, m.Locked.Code)
		for _, c := range m.Contenders {
			if c.Code != team {
				assert.Equal(t, 0.0, c.CumulativeWin)
			}
		}
	}

	// Rejected.
	rec = s.do(t, http.MethodPost, base+"/override", "", OverrideRequest{MatchID: 73, Team: "XXX"})
	require.Equal(t, http.StatusConflict, rec.Code)
	rejected := decode[struct {
		MatchID int      `json:"matchId"`
		Team    string   `json:"team"`
		Valid   []string `json:"valid"`
	}](t, rec)
	assert.Equal(t, 73, rejected.MatchID)
	assert.Equal(t, "XXX", rejected.Team)
	assert.Equal(t, []string{team}, rejected.Valid)

	// The other side cannot take a locked match.
	rec = s.do(t, http.MethodPost, base+"/override", "", OverrideRequest{MatchID: 73, Team: m73.Participants[1].Code})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/override", "", OverrideRequest{MatchID: 999, Team: team})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, base+"/override", "", map[string]any{"team": team})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Same team again unlocks.
	rec = s.do(t, http.MethodPost, base+"/override", "", OverrideRequest{MatchID: 73, Team: team})
	require.Equal(t, http.StatusOK, rec.Code)
	unlocked := decode[bracketJSON](t, rec)
	assert.Equal(t, "unlock", unlocked.Action)
	assert.Empty(t, unlocked.Locks)
	assert.Greater(t, unlocked.Version, locked.Version)

	// Reset.
	rec = s.do(t, http.MethodPost, base+"/override", "", OverrideRequest{MatchID: 73, Team: team})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodDelete, base+"/overrides", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, base+"/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[bracketJSON](t, rec).Locks)
}

func TestServer_scenarios(t *testing.T) {
	s := newTestServer(t, nil)
	token := login(t, s, "letmein")
	b := newBracket(t, s)

	var team string
	for _, m := range b.Matches {
		if m.ID == 104 {
			require.NotEmpty(t, m.Contenders)
			team = m.Contenders[0].Code
		}
	}
	rec := s.do(t, http.MethodPost, "/api/bracket/"+b.SessionID+"/override", "", OverrideRequest{MatchID: 104, Team: team})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	want := decode[bracketJSON](t, rec).Locks
	assert.Len(t, want, 5)

	req := ScenarioRequest{Name: "Champions <b>run</b>", SessionID: b.SessionID}
	rec = s.do(t, http.MethodPost, "/api/scenarios", "", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/scenarios", token, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[Scenario](t, rec)
	assert.Equal(t, "Champions brunb", saved.Name)
	assert.Equal(t, "admin", saved.CreatedBy)
	require.NotEmpty(t, saved.UUID)

	rec = s.do(t, http.MethodPost, "/api/scenarios", token, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/scenarios", token, ScenarioRequest{Name: "x", SessionID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Scenarios []Scenario `json:"scenarios"`
	}](t, rec).Scenarios
	require.Len(t, list, 1)
	assert.Equal(t, saved.UUID, list[0].UUID)

	fresh := newBracket(t, s)
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/scenarios/%s/load", saved.UUID), "", LoadScenarioRequest{SessionID: fresh.SessionID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, want, decode[bracketJSON](t, rec).Locks)

	rec = s.do(t, http.MethodPost, "/api/scenarios/missing/load", "", LoadScenarioRequest{SessionID: fresh.SessionID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_POSTRefreshRatings(t *testing.T) {
	s := newTestServer(t, nil)
	token := login(t, s, "letmein")

	tsv := "rank\tcode\tname\trating\n1\tARG\tArgentina\t2200\n2\tESP\tSpain\t2100\n"
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tsv))
	}))
	defer feed.Close()

	rec := s.do(t, http.MethodGet, "/api/tournament/simulation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := rec.Body.String()

	rec = s.do(t, http.MethodPost, "/api/ratings/refresh", token, RefreshRequest{URL: "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/ratings/refresh", token, RefreshRequest{URL: feed.URL + "/missing.html"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/ratings/refresh", token, RefreshRequest{URL: feed.URL + "/World.tsv"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[struct {
		Teams   int  `json:"teams"`
		Version uint `json:"version"`
	}](t, rec)
	assert.Equal(t, 2, out.Teams)
	assert.Equal(t, uint(2), out.Version)

	rec = s.do(t, http.MethodGet, "/api/rankings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"code":"ARG"`))
	assert.False(t, strings.Contains(rec.Body.String(), `"code":"FRA"`))

	rec = s.do(t, http.MethodGet, "/api/tournament/simulation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, before, rec.Body.String())
}

func TestServer_metrics(t *testing.T) {
	s := newTestServer(t, nil)
	newBracket(t, s)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cupforecast_bracket_sessions")
	assert.Contains(t, body, `cupforecast_simulation_duration_seconds_count{simulator="tournament"}`)
}
