package hours

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// Layout of the timestamps in the profile files, e.g. "01/31/24 17:30"
	TimestampLayout = "01/02/06 15:04"
	// Layout of the timestamps written to result files
	OutputLayout = "2006-01-02 15:04:05"

	endOfDay = TimeOfDay(24 * time.Hour)
)

var (
	ErrInvalidTime   = errors.New("invalid time of day")
	ErrEmptyWindow   = errors.New("window is empty")
	ErrWrapsMidnight = errors.New("window wraps past midnight")
)

// TimeOfDay is the offset from midnight, the date part of a timestamp is ignored.
type TimeOfDay time.Duration

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS". "24:00" is accepted as the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" || s == "24:00:00" {
		return endOfDay, nil
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Of(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidTime, s)
}

func Of(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()))
}

func (d TimeOfDay) String() string {
	dur := time.Duration(d)
	h := int(dur / time.Hour)
	m := int(dur % time.Hour / time.Minute)
	sec := int(dur % time.Minute / time.Second)
	if sec != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Window is the half-open daily interval [Start, End). The zero value is a disabled
// window that contains nothing.
type Window struct {
	Start   TimeOfDay
	End     TimeOfDay
	enabled bool
}

// ParseWindow parses a window. Both boundaries empty gives a disabled window, windows
// where end <= start are rejected since wrapping past midnight is not supported.
func ParseWindow(start, end string) (Window, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return Window{}, nil
	}
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	if s == endOfDay {
		return Window{}, fmt.Errorf("window start: %w: %q", ErrInvalidTime, start)
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	if e == s {
		return Window{}, fmt.Errorf("%w: %s-%s", ErrEmptyWindow, s, e)
	}
	if e < s {
		return Window{}, fmt.Errorf("%w: %s-%s", ErrWrapsMidnight, s, e)
	}
	return Window{Start: s, End: e, enabled: true}, nil
}

func (w Window) Enabled() bool {
	return w.enabled
}

func (w Window) Contains(t time.Time) bool {
	if !w.enabled {
		return false
	}
	tod := Of(t)
	return tod >= w.Start && tod < w.End
}

func (w Window) String() string {
	if !w.enabled {
		return "disabled"
	}
	return fmt.Sprintf("%s-%s", w.Start, w.End)
}

func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func FormatTimestamp(t time.Time) string {
	return t.Format(OutputLayout)
}
