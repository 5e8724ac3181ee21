package www

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

func intOrDefault(u *url.URL, key string, defaultValue int) int {
	if v := u.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultValue
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response failed", slog.Any("error", err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(logger *slog.Logger, w http.ResponseWriter, status int, err error) {
	writeJSON(logger, w, status, errorResponse{Error: err.Error()})
}
