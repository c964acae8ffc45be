package main

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9 \-]+`)

func basicSanitize(input string) string {
	safeSlug := unsafeChars.ReplaceAllString(input, "")

	// Ensure no leading/trailing dashes
	return strings.TrimSpace(strings.Trim(safeSlug, "-"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.log.WithError(err).Error(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique index")
}
