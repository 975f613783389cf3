package domain

import "time"

// FitMethod records how a period's precipitation distribution is represented.
type FitMethod string

const (
	FitNone      FitMethod = "none"
	FitGamma     FitMethod = "gamma"
	FitEmpirical FitMethod = "empirical"
)

// PeriodStats are the baseline statistics of one calendar period.
type PeriodStats struct {
	Key             int       `json:"key"`
	Mean            float64   `json:"mean"`
	Std             float64   `json:"std"`
	SampleCount     int       `json:"sample_count"`
	ZeroProbability float64   `json:"zero_probability"`
	GammaShape      float64   `json:"gamma_shape,omitempty"`
	GammaScale      float64   `json:"gamma_scale,omitempty"`
	Fit             FitMethod `json:"fit"`
	// Empirical holds the sorted positive baseline sample when Fit is FitEmpirical.
	Empirical []float64 `json:"empirical,omitempty"`
}

// Profile is the climatology baseline of one (location, variable, baseline window).
// It is immutable once built and safe for concurrent reads.
type Profile struct {
	Location      string              `json:"location"`
	Variable      Variable            `json:"variable"`
	Granularity   Granularity         `json:"granularity"`
	BaselineStart time.Time           `json:"baseline_start"`
	BaselineEnd   time.Time           `json:"baseline_end"`
	Accumulation  int                 `json:"accumulation"`
	Periods       map[int]PeriodStats `json:"periods"`
}

// Period returns the statistics for a calendar period key.
func (p *Profile) Period(key int) (PeriodStats, bool) {
	if p == nil {
		return PeriodStats{}, false
	}
	st, ok := p.Periods[key]
	return st, ok
}

// FallbackPeriods returns the keys of periods that use the empirical fallback.
func (p *Profile) FallbackPeriods() []int {
	var keys []int
	for k := 1; k <= p.Granularity.PeriodsPerYear(); k++ {
		if st, ok := p.Periods[k]; ok && st.Fit == FitEmpirical {
			keys = append(keys, k)
		}
	}
	return keys
}

// AnomalyClass buckets a z-score with the same thresholds as the SPI table.
type AnomalyClass string

const (
	ExtremelyBelow  AnomalyClass = "EXTREMELY_BELOW"
	SeverelyBelow   AnomalyClass = "SEVERELY_BELOW"
	ModeratelyBelow AnomalyClass = "MODERATELY_BELOW"
	NearNormal      AnomalyClass = "NEAR_NORMAL"
	ModeratelyAbove AnomalyClass = "MODERATELY_ABOVE"
	SeverelyAbove   AnomalyClass = "SEVERELY_ABOVE"
	ExtremelyAbove  AnomalyClass = "EXTREMELY_ABOVE"
	Undefined       AnomalyClass = "UNDEFINED"
)

// Anomaly compares one observation with its baseline period.
// ZScore is nil when the baseline standard deviation is zero.
type Anomaly struct {
	Time          time.Time    `json:"time"`
	Location      string       `json:"location"`
	Variable      Variable     `json:"variable"`
	Observed      float64      `json:"observed"`
	BaselineMean  float64      `json:"baseline_mean"`
	BaselineStd   float64      `json:"baseline_std"`
	ZScore        *float64     `json:"z_score"`
	AbsoluteDelta float64      `json:"absolute_delta"`
	Class         AnomalyClass `json:"class"`
}

// Severity is an SPI class label.
type Severity string

const (
	ExtremeDrought  Severity = "extreme drought"
	SevereDrought   Severity = "severe drought"
	ModerateDrought Severity = "moderate drought"
	NearNormalIndex Severity = "near normal"
	ModeratelyWet   Severity = "moderately wet"
	VeryWet         Severity = "very wet"
	ExtremelyWet    Severity = "extremely wet"
)

// HazardIndexValue is one standardized index value at a window end.
type HazardIndexValue struct {
	Time               time.Time `json:"time"`
	Location           string    `json:"location"`
	AccumulationWindow int       `json:"accumulation_window"`
	Accumulated        float64   `json:"accumulated"`
	IndexValue         float64   `json:"index_value"`
	Severity           Severity  `json:"severity"`
	Method             FitMethod `json:"method"`
}

// SeasonStatus tells whether a growing season was found.
type SeasonStatus string

const (
	SeasonDetected     SeasonStatus = "DETECTED"
	SeasonUndetermined SeasonStatus = "UNDETERMINED"
)

// Season delimits the rain-fed growing season of one location-year.
// Derived fields are zero unless Status is SeasonDetected.
type Season struct {
	Location          string       `json:"location"`
	Year              int          `json:"year"`
	Onset             *time.Time   `json:"onset_date"`
	Cessation         *time.Time   `json:"cessation_date"`
	LengthDays        int          `json:"length_days"`
	TotalRainfall     float64      `json:"total_rainfall"`
	DrySpellCount     int          `json:"dry_spell_count"`
	Status            SeasonStatus `json:"status"`
	CessationCensored bool         `json:"cessation_censored,omitempty"`
}

// Issue is a per-point failure reported beside a partial result.
type Issue struct {
	Time  time.Time `json:"time"`
	Error string    `json:"error"`
	err   error
}

// NewIssue wraps err for the side-channel.
func NewIssue(t time.Time, err error) Issue {
	return Issue{Time: t, Error: err.Error(), err: err}
}

// Err returns the underlying error. It is nil for issues decoded from JSON.
func (i Issue) Err() error { return i.err }
