package domain

import (
	"fmt"
	"math"
	"time"
)

// Variable identifies an observed climate quantity.
type Variable string

const (
	Precipitation  Variable = "precipitation"
	Temperature    Variable = "temperature"
	TemperatureMax Variable = "temperature_max"
	TemperatureMin Variable = "temperature_min"
	// ReferenceET0 is derived reference evapotranspiration, never fetched.
	ReferenceET0 Variable = "reference_et0"
)

// ParseVariable validates a variable name.
func ParseVariable(s string) (Variable, error) {
	switch v := Variable(s); v {
	case Precipitation, Temperature, TemperatureMax, TemperatureMin, ReferenceET0:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variable %q", s)
	}
}

// Accumulates reports whether period instances of v are totals (true) or means (false).
func (v Variable) Accumulates() bool {
	return v == Precipitation || v == ReferenceET0
}

// Location is a point of interest, usually a grid cell centre or a station.
type Location struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point is one observation. Missing marks an explicit gap; Value is ignored when set.
type Point struct {
	Time     time.Time `json:"time"`
	Location string    `json:"location"`
	Variable Variable  `json:"variable"`
	Value    float64   `json:"value"`
	Missing  bool      `json:"missing,omitempty"`
}

// Series is an ordered sequence of points for one (location, variable).
type Series struct {
	Location string   `json:"location"`
	Variable Variable `json:"variable"`
	Points   []Point  `json:"points"`
}

// Len returns the number of points, missing ones included.
func (s Series) Len() int { return len(s.Points) }

// Validate checks the structural invariants of the series: a single location
// and variable, strictly increasing UTC timestamps, finite values and
// non-negative precipitation.
func (s Series) Validate() error {
	if s.Location == "" {
		return NewValidationError("series has no location")
	}
	if s.Variable == "" {
		return NewValidationError("series has no variable")
	}
	for i, p := range s.Points {
		if p.Location != s.Location {
			return NewValidationError("point %d: location %q does not match series location %q", i, p.Location, s.Location)
		}
		if p.Variable != s.Variable {
			return NewValidationError("point %d: variable %q does not match series variable %q", i, p.Variable, s.Variable)
		}
		if p.Time.IsZero() {
			return NewValidationError("point %d: zero timestamp", i)
		}
		if p.Time.Location() != time.UTC {
			return NewValidationError("point %d: timestamp %s is not UTC", i, p.Time.Format(time.RFC3339))
		}
		if i > 0 && !p.Time.After(s.Points[i-1].Time) {
			return NewValidationError("point %d: timestamp %s does not follow %s",
				i, p.Time.Format(time.RFC3339), s.Points[i-1].Time.Format(time.RFC3339))
		}
		if p.Missing {
			continue
		}
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return NewValidationError("point %d: non-finite value", i)
		}
		if s.Variable == Precipitation && p.Value < 0 {
			return NewValidationError("point %d: negative rainfall %.3f", i, p.Value)
		}
	}
	return nil
}

// Between returns the points whose timestamps fall in [start, end].
func (s Series) Between(start, end time.Time) Series {
	out := Series{Location: s.Location, Variable: s.Variable}
	for _, p := range s.Points {
		if p.Time.Before(start) || p.Time.After(end) {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out
}

// Year returns the points observed in the given calendar year.
func (s Series) Year(year int) Series {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)
	return s.Between(start, end)
}

// IsDaily reports whether consecutive points are exactly one day apart.
func (s Series) IsDaily() bool {
	for i := 1; i < len(s.Points); i++ {
		if s.Points[i].Time.Sub(s.Points[i-1].Time) != 24*time.Hour {
			return false
		}
	}
	return true
}

// FillDaily builds a gap-explicit daily series covering [start, end] from
// sparse observations keyed by day. Days absent from values become missing points.
func FillDaily(location string, v Variable, start, end time.Time, values map[time.Time]float64) Series {
	s := Series{Location: location, Variable: v}
	for day := Day(start); !day.After(Day(end)); day = day.AddDate(0, 0, 1) {
		p := Point{Time: day, Location: location, Variable: v}
		if val, ok := values[day]; ok {
			p.Value = val
		} else {
			p.Missing = true
		}
		s.Points = append(s.Points, p)
	}
	return s
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
