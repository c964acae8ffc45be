package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cpacia/cupforecast/bracket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Server) POSTLoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	// Check if rate limit has been exceeded
	key := loginRateLimitKey(r, creds.Username)
	ctx, err := s.loginRateLimiter.Peek(r.Context(), key)
	if err != nil {
		http.Error(w, "Rate limiter error", http.StatusInternalServerError)
		return
	}
	if ctx.Reached {
		http.Error(w, "Too many failed login attempts", http.StatusTooManyRequests)
		return
	}

	dbCreds := &DBCredentials{}
	result := s.db.First(dbCreds, "username = ?", creds.Username)
	if result.Error != nil {
		s.loginRateLimiter.Increment(r.Context(), key, 2)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	err = bcrypt.CompareHashAndPassword([]byte(dbCreds.PasswordHash), []byte(creds.Password))
	if err != nil {
		s.loginRateLimiter.Increment(r.Context(), key, 2)
		s.log.WithField("user", creds.Username).Warn("failed login")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	expiration := time.Now().Add(60 * time.Minute)
	claims := &Claims{
		Username: creds.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(s.jwtKey)
	if err != nil {
		http.Error(w, "Could not generate token", http.StatusInternalServerError)
		return
	}

	// Set HTTP-only JWT cookie
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    tokenStr,
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteNoneMode,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]any{"token": tokenStr, "expires": expiration})
}

func loginRateLimitKey(r *http.Request, username string) string {
	ip := r.RemoteAddr
	return fmt.Sprintf("%s:%s", ip, username)
}

func (s *Server) POSTLogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteNoneMode,
		Expires:  time.Unix(0, 0), // Expire immediately
		MaxAge:   -1,              // Force deletion
	})
	w.WriteHeader(http.StatusOK)
}

// POSTAuthMe reports who the token belongs to and how many scenarios they
// have saved.
func (s *Server) POSTAuthMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(userContextKey).(*Claims)
	if !ok || claims == nil {
		http.Error(w, "User info not found in context", http.StatusInternalServerError)
		return
	}

	dbCreds := &DBCredentials{}
	if err := s.db.First(dbCreds, "username = ?", claims.Username).Error; err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var scenarios int64
	if err := s.db.Model(&Scenario{}).Where("created_by = ?", claims.Username).Count(&scenarios).Error; err != nil {
		s.serverError(w, "Failed to count scenarios", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      claims.Username,
		"scenarios":     scenarios,
	})
}

func (s *Server) POSTChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(userContextKey).(*Claims)
	if !ok || claims == nil {
		http.Error(w, "User info not found in context", http.StatusInternalServerError)
		return
	}

	var pwChangeReq PWChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&pwChangeReq); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if len(pwChangeReq.NewPassword) < 8 {
		http.Error(w, "Password too short", http.StatusBadRequest)
		return
	}

	dbCreds := &DBCredentials{}
	result := s.db.First(dbCreds, "username = ?", claims.Username)
	if result.Error != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	err := bcrypt.CompareHashAndPassword([]byte(dbCreds.PasswordHash), []byte(pwChangeReq.CurrentPassword))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pwChangeReq.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Could not check password", http.StatusInternalServerError)
		return
	}
	dbCreds.PasswordHash = string(hash)
	if err := s.db.Save(dbCreds).Error; err != nil {
		http.Error(w, "Could not save password", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) GETRankings(w http.ResponseWriter, r *http.Request) {
	rows, err := s.forecast.Rankings()
	if err != nil {
		s.serverError(w, "Failed to fetch rankings", err)
		return
	}
	var meta RatingsMeta
	if err := s.db.First(&meta).Error; err != nil {
		s.serverError(w, "Failed to fetch rankings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rankings": rows,
		"version":  meta.Version,
		"source":   meta.Source,
		"date":     meta.Date,
	})
}

func (s *Server) GETGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.forecast.Groups(r.Context())
	if err != nil {
		s.serverError(w, "Failed to build groups", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) GETPlayoffs(w http.ResponseWriter, r *http.Request) {
	playoffs, err := s.forecast.Playoffs(r.Context())
	if err != nil {
		s.serverError(w, "Failed to resolve playoffs", err)
		return
	}
	writeJSON(w, http.StatusOK, playoffs)
}

func (s *Server) GETGroupSimulation(w http.ResponseWriter, r *http.Request) {
	groups, err := s.forecast.GroupSimulation(r.Context())
	if err != nil {
		s.serverError(w, "Group simulation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"iterations": s.cfg.Groups.Iterations,
		"groups":     groups,
	})
}

func (s *Server) GETTournamentSimulation(w http.ResponseWriter, r *http.Request) {
	res, err := s.forecast.Tournament(r.Context())
	if err != nil {
		s.serverError(w, "Tournament simulation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) POSTBracket(w http.ResponseWriter, r *http.Request) {
	e, err := s.forecast.NewBracket(r.Context())
	if err != nil {
		s.serverError(w, "Could not build bracket", err)
		return
	}
	id := s.sessions.add(e)
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": id,
		"matches":   e.Snapshot(),
	})
}

// withSession runs fn against the session named in the URL and answers 404
// for unknown or expired sessions.
func (s *Server) withSession(w http.ResponseWriter, id string, fn func(e *bracket.Engine) error) bool {
	found, err := s.sessions.with(id, fn)
	if !found {
		http.Error(w, "Bracket session not found", http.StatusNotFound)
		return false
	}
	if err != nil {
		s.bracketError(w, err)
		return false
	}
	return true
}

func (s *Server) GETBracket(w http.ResponseWriter, r *http.Request) {
	var out map[string]any
	ok := s.withSession(w, chi.URLParam(r, "sessionID"), func(e *bracket.Engine) error {
		out = map[string]any{
			"version": e.Version(),
			"locks":   e.Locks(),
			"matches": e.Snapshot(),
		}
		return nil
	})
	if ok {
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) GETBracketMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.Atoi(chi.URLParam(r, "matchID"))
	if err != nil {
		http.Error(w, "Invalid match id", http.StatusBadRequest)
		return
	}
	var view bracket.MatchView
	ok := s.withSession(w, chi.URLParam(r, "sessionID"), func(e *bracket.Engine) error {
		view, err = e.Match(matchID)
		return err
	})
	if ok {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) POSTBracketOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out map[string]any
	ok := s.withSession(w, chi.URLParam(r, "sessionID"), func(e *bracket.Engine) error {
		action, err := e.SetOverride(req.MatchID, req.Team)
		if err != nil {
			return err
		}
		overrideTotal.WithLabelValues(string(action)).Inc()
		out = map[string]any{
			"action":  action,
			"version": e.Version(),
			"locks":   e.Locks(),
			"matches": e.Snapshot(),
		}
		return nil
	})
	if ok {
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) DELETEBracketOverrides(w http.ResponseWriter, r *http.Request) {
	var out map[string]any
	ok := s.withSession(w, chi.URLParam(r, "sessionID"), func(e *bracket.Engine) error {
		e.Reset()
		out = map[string]any{"version": e.Version(), "matches": e.Snapshot()}
		return nil
	})
	if ok {
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) bracketError(w http.ResponseWriter, err error) {
	var oe *bracket.OverrideError
	switch {
	case errors.As(err, &oe):
		overrideTotal.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   oe.Error(),
			"matchId": oe.MatchID,
			"team":    oe.Team,
			"valid":   oe.Valid,
		})
	case errors.Is(err, bracket.ErrUnknownMatch):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.serverError(w, "Bracket error", err)
	}
}

func (s *Server) POSTScenario(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(userContextKey).(*Claims)
	if !ok || claims == nil {
		http.Error(w, "User info not found in context", http.StatusInternalServerError)
		return
	}

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	req.Name = basicSanitize(req.Name)
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var locks map[int]string
	if !s.withSession(w, req.SessionID, func(e *bracket.Engine) error {
		locks = e.Locks()
		return nil
	}) {
		return
	}
	raw, err := json.Marshal(locks)
	if err != nil {
		s.serverError(w, "Could not encode locks", err)
		return
	}

	scenario := &Scenario{
		UUID:      uuid.NewString(),
		Name:      req.Name,
		CreatedBy: claims.Username,
		Locks:     datatypes.JSON(raw),
	}
	if err := s.db.Create(scenario).Error; err != nil {
		if isUniqueConstraintError(err) {
			http.Error(w, "Scenario name already exists", http.StatusConflict)
			return
		}
		s.serverError(w, "Could not save scenario", err)
		return
	}
	writeJSON(w, http.StatusCreated, scenario)
}

func (s *Server) GETScenarios(w http.ResponseWriter, r *http.Request) {
	var scenarios []*Scenario
	if err := s.db.Order("created_at desc").Find(&scenarios).Error; err != nil {
		s.serverError(w, "Failed to fetch scenarios", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios})
}

func (s *Server) POSTLoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	scenario := &Scenario{}
	if err := s.db.First(scenario, "uuid = ?", chi.URLParam(r, "id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Scenario not found", http.StatusNotFound)
			return
		}
		s.serverError(w, "Failed to fetch scenario", err)
		return
	}
	var locks map[int]string
	if err := json.Unmarshal(scenario.Locks, &locks); err != nil {
		s.serverError(w, "Corrupt scenario", err)
		return
	}

	var out map[string]any
	ok := s.withSession(w, req.SessionID, func(e *bracket.Engine) error {
		if err := e.ApplyLocks(locks); err != nil {
			return err
		}
		out = map[string]any{
			"version": e.Version(),
			"locks":   e.Locks(),
			"matches": e.Snapshot(),
		}
		return nil
	})
	if ok {
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) POSTRefreshRatings(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	url := req.URL
	if url == "" {
		url = s.ratingsURL
	}

	meta, n, err := refreshRatings(s.db, url)
	if err != nil {
		s.log.WithError(err).WithField("url", url).Error("ratings refresh failed")
		http.Error(w, "Ratings refresh failed", http.StatusBadGateway)
		return
	}
	s.forecast.Invalidate()
	s.log.WithFields(logrus.Fields{"url": url, "teams": n, "version": meta.Version}).Info("ratings refreshed")
	writeJSON(w, http.StatusOK, map[string]any{"teams": n, "version": meta.Version})
}
