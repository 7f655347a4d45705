package registration

import (
	"volreg/pkg/pyramid"
)

// Level is one step of a multi-resolution schedule.
type Level struct {
	Shrink     float64
	Sigma      float64 // physical units
	Iterations int
}

// Schedule is the ordered, coarse to fine list of pyramid levels. The zero
// value has no levels and is rejected by every stage.
type Schedule struct {
	levels []Level
}

// NewSchedule pairs up shrink factors, smoothing sigmas and iteration counts.
// The slices must have the same length; shrink factors must be positive and
// non-increasing, sigmas non-negative and iteration counts positive.
func NewSchedule(shrink, sigmas []float64, iterations []int) (Schedule, error) {
	if len(shrink) == 0 {
		return Schedule{}, configErr("schedule", "[]", "at least one level is required")
	}
	if len(sigmas) != len(shrink) || len(iterations) != len(shrink) {
		return Schedule{}, configErr("schedule", len(shrink),
			"shrink factors, sigmas and iterations must have the same length")
	}
	levels := make([]Level, len(shrink))
	for k := range shrink {
		switch {
		case !(shrink[k] > 0):
			return Schedule{}, configErr("shrink factor", shrink[k], "must be positive")
		case k > 0 && shrink[k] > shrink[k-1]:
			return Schedule{}, configErr("shrink factor", shrink[k], "levels must go from coarse to fine")
		case sigmas[k] < 0:
			return Schedule{}, configErr("smoothing sigma", sigmas[k], "must not be negative")
		case iterations[k] < 1:
			return Schedule{}, configErr("iterations", iterations[k], "must be positive")
		}
		levels[k] = Level{Shrink: shrink[k], Sigma: sigmas[k], Iterations: iterations[k]}
	}
	return Schedule{levels: levels}, nil
}

// UniformIterations repeats n for every level.
func UniformIterations(levels, n int) []int {
	out := make([]int, levels)
	for i := range out {
		out[i] = n
	}
	return out
}

// mustSchedule is for the built-in defaults only.
func mustSchedule(shrink, sigmas []float64, iterations []int) Schedule {
	s, err := NewSchedule(shrink, sigmas, iterations)
	if err != nil {
		panic(err)
	}
	return s
}

// Levels returns a copy of the levels.
func (s Schedule) Levels() []Level {
	return append([]Level(nil), s.levels...)
}

// Len returns the number of levels.
func (s Schedule) Len() int { return len(s.levels) }

func (s Schedule) pyramid() []pyramid.Level {
	out := make([]pyramid.Level, len(s.levels))
	for k, l := range s.levels {
		out[k] = pyramid.Level{Shrink: pyramid.Uniform(l.Shrink), Sigma: l.Sigma}
	}
	return out
}

func (s Schedule) validate() error {
	if len(s.levels) == 0 {
		return configErr("schedule", "[]", "at least one level is required")
	}
	return nil
}
