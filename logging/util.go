package logging

import (
	"log/slog"
	"strings"
)

// LevelFromString parses level names like "DEBUG" or "warn+2". Nil and unknown names
// give INFO.
func LevelFromString(str *string) slog.Level {
	if str == nil {
		return slog.LevelInfo
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(*str))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
