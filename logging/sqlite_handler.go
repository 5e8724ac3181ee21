package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/icodeforyou/solarplant-dispatch/database"
)

type LogAttrFormat string

const (
	LogAttrFormatText LogAttrFormat = "TEXT"
	LogAttrFormatJSON LogAttrFormat = "JSON"
)

var textEscaper = strings.NewReplacer("=", `\=`, ";", `\;`)

// SQLiteHandler stores records in the log table. Attributes are flattened into one
// column, group names become key prefixes separated by dots.
type SQLiteHandler struct {
	db       *database.Database
	minLevel slog.Level
	format   LogAttrFormat
	attrs    []slog.Attr // Already prefixed with their group
	prefix   string
}

func NewSQLiteHandler(db *database.Database, minLevel slog.Level, format LogAttrFormat) *SQLiteHandler {
	return &SQLiteHandler{db: db, minLevel: minLevel, format: format}
}

func (h *SQLiteHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *SQLiteHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = flatten(attrs, h.prefix, a)
		return true
	})

	return h.db.SaveLogEntry(ctx, database.LogEntryRow{
		Timestamp: r.Time,
		Level:     int(r.Level),
		Message:   r.Message,
		Attrs:     h.encode(attrs),
	})
}

func (h *SQLiteHandler) encode(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return ""
	}

	if h.format == LogAttrFormatText {
		parts := make([]string, len(attrs))
		for i, a := range attrs {
			parts[i] = a.Key + "=" + textEscaper.Replace(a.Value.String())
		}
		return strings.Join(parts, "; ")
	}

	pairs := make([]map[string]string, len(attrs))
	for i, a := range attrs {
		pairs[i] = map[string]string{a.Key: a.Value.String()}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Sprintf(`[{"error": %q}]`, err.Error())
	}
	return string(b)
}

func flatten(dst []slog.Attr, prefix string, a slog.Attr) []slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		group := prefix
		if a.Key != "" {
			group = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = flatten(dst, group, ga)
		}
		return dst
	}
	return append(dst, slog.Attr{Key: prefix + a.Key, Value: a.Value})
}

func (h *SQLiteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(h2.attrs, h.attrs)
	for _, a := range attrs {
		h2.attrs = flatten(h2.attrs, h.prefix, a)
	}
	return &h2
}

func (h *SQLiteHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}
