package timeseries

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidSeries = errors.New("invalid time series")

type Sample struct {
	Time   time.Time
	LoadKW float64
	PVKW   float64
}

// Series is an ordered load and PV profile. It is never modified after construction.
type Series struct {
	samples []Sample
}

func New(samples []Sample) Series {
	return Series{samples: append([]Sample(nil), samples...)}
}

func (s Series) Len() int {
	return len(s.samples)
}

func (s Series) Samples() []Sample {
	return append([]Sample(nil), s.samples...)
}

func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s.samples))
	for i, v := range s.samples {
		out[i] = v.Time
	}
	return out
}

func (s Series) Load() []float64 {
	out := make([]float64, len(s.samples))
	for i, v := range s.samples {
		out[i] = v.LoadKW
	}
	return out
}

func (s Series) PV() []float64 {
	out := make([]float64, len(s.samples))
	for i, v := range s.samples {
		out[i] = v.PVKW
	}
	return out
}

// Validate rejects empty series, unordered timestamps and load or PV values that are
// negative or not finite.
func (s Series) Validate() error {
	if len(s.samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidSeries)
	}
	for i, v := range s.samples {
		if !validPower(v.LoadKW) {
			return fmt.Errorf("%w: load %v at %s", ErrInvalidSeries, v.LoadKW, v.Time.Format(time.DateTime))
		}
		if !validPower(v.PVKW) {
			return fmt.Errorf("%w: pv %v at %s", ErrInvalidSeries, v.PVKW, v.Time.Format(time.DateTime))
		}
		if i > 0 && !v.Time.After(s.samples[i-1].Time) {
			return fmt.Errorf("%w: %s does not follow %s", ErrInvalidSeries,
				v.Time.Format(time.DateTime), s.samples[i-1].Time.Format(time.DateTime))
		}
	}
	return nil
}

// Step returns the spacing between samples, which must be the same throughout.
func (s Series) Step() (time.Duration, error) {
	if len(s.samples) < 2 {
		return 0, fmt.Errorf("%w: at least two samples are needed to infer the timestep", ErrInvalidSeries)
	}
	step := s.samples[1].Time.Sub(s.samples[0].Time)
	for i := 2; i < len(s.samples); i++ {
		if d := s.samples[i].Time.Sub(s.samples[i-1].Time); d != step {
			return 0, fmt.Errorf("%w: timestep %s at %s differs from %s", ErrInvalidSeries,
				d, s.samples[i].Time.Format(time.DateTime), step)
		}
	}
	if step <= 0 {
		return 0, fmt.Errorf("%w: non-positive timestep %s", ErrInvalidSeries, step)
	}
	return step, nil
}

func validPower(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
