package www

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/database"
	"github.com/icodeforyou/solarplant-dispatch/logging"
	"github.com/icodeforyou/solarplant-dispatch/slice"
)

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Attrs     string    `json:"attrs,omitempty"`
}

// NewLogHandler pages through the log stored in the database, newest first. The query
// parameters are page, pageSize, level and q (message search).
func NewLogHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := database.LogQuery{
			MinLevel: slog.LevelDebug,
			Contains: r.URL.Query().Get("q"),
			Page:     intOrDefault(r.URL, "page", 1),
			PageSize: intOrDefault(r.URL, "pageSize", 25),
		}
		if l := r.URL.Query().Get("level"); l != "" {
			q.MinLevel = logging.LevelFromString(&l)
		}

		e, err := db.GetLogEntries(r.Context(), q)
		if err != nil {
			logger.Error("handling log request", slog.Any("error", err))
			writeError(logger, w, http.StatusInternalServerError, err)
			return
		}

		writeJSON(logger, w, http.StatusOK, slice.Map(e, func(r database.LogEntryRow) logEntry {
			return logEntry{
				Timestamp: r.Timestamp,
				Level:     slog.Level(r.Level).String(),
				Message:   r.Message,
				Attrs:     r.Attrs,
			}
		}))
	}
}
