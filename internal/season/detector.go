// Package season detects the onset and cessation of the rain-fed growing season.
package season

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CessationRule selects how the end of the season is found.
type CessationRule string

const (
	// TrailingRainfall ends the season on the first day whose forward rainfall
	// window drops below CessationThresholdMM.
	TrailingRainfall CessationRule = "trailing_rainfall"
	// WaterBalance ends the season when a single-bucket soil water balance is exhausted.
	WaterBalance CessationRule = "water_balance"
)

// Config holds the onset and cessation rules. Days of year are counted from
// January 1 of the year of the first observation.
type Config struct {
	OnsetThresholdMM         float64       `validate:"gt=0"`
	OnsetWindowDays          int           `validate:"gte=1"`
	RainyDayMM               float64       `validate:"gte=0"`
	DrySpellMaxDays          int           `validate:"gte=1"`
	LookaheadDays            int           `validate:"gtefield=OnsetWindowDays"`
	SearchStartDOY           int           `validate:"gte=1,lte=366"`
	SearchEndDOY             int           `validate:"gtefield=SearchStartDOY,lte=366"`
	Cessation                CessationRule `validate:"oneof=trailing_rainfall water_balance"`
	CessationWindowDays      int           `validate:"gte=1"`
	CessationThresholdMM     float64       `validate:"gte=0"`
	CessationStartOffsetDays int           `validate:"gte=0"`
	SoilCapacityMM           float64       `validate:"gt=0"`
	DailyET0MM               float64       `validate:"gt=0"`
	DrySpellCountMinDays     int           `validate:"gte=1"`
}

// DefaultConfig returns the 20 mm over 10 days onset rule with a 7-day
// false-start filter over 21 days and trailing-rainfall cessation.
func DefaultConfig() Config {
	return Config{
		OnsetThresholdMM:         20,
		OnsetWindowDays:          10,
		RainyDayMM:               1,
		DrySpellMaxDays:          7,
		LookaheadDays:            21,
		SearchStartDOY:           1,
		SearchEndDOY:             366,
		Cessation:                TrailingRainfall,
		CessationWindowDays:      20,
		CessationThresholdMM:     10,
		CessationStartOffsetDays: 30,
		SoilCapacityMM:           100,
		DailyET0MM:               4,
		DrySpellCountMinDays:     5,
	}
}

// Detector finds growing seasons. It holds no mutable state.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a Detector after validating cfg.
func NewDetector(cfg Config, logger *slog.Logger) (*Detector, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("season config: %w", err)
	}
	return &Detector{cfg: cfg, logger: logger}, nil
}

// Config returns the configuration the detector was created with.
func (d *Detector) Config() Config { return d.cfg }

// Detect scans one year of daily precipitation using the constant daily ET0
// for the water-balance rule.
func (d *Detector) Detect(precip domain.Series) (domain.Season, error) {
	return d.DetectWithET0(precip, domain.Series{})
}

// DetectWithET0 scans one year of daily precipitation. et0 may be empty; days
// it does not cover use the configured constant ET0. Missing rainfall days
// count as 0 mm.
func (d *Detector) DetectWithET0(precip, et0 domain.Series) (domain.Season, error) {
	if err := precip.Validate(); err != nil {
		return domain.Season{}, err
	}
	if precip.Variable != domain.Precipitation {
		return domain.Season{}, domain.NewValidationError("season detection requires precipitation, got %q", precip.Variable)
	}
	if len(precip.Points) == 0 {
		return domain.Season{}, domain.NewValidationError("empty precipitation series")
	}
	if !precip.IsDaily() {
		return domain.Season{}, domain.NewValidationError("season detection requires a contiguous daily series")
	}

	days := make([]time.Time, len(precip.Points))
	rain := make([]float64, len(precip.Points))
	for i, p := range precip.Points {
		days[i] = p.Time
		if !p.Missing {
			rain[i] = p.Value
		}
	}

	year := days[0].Year()
	result := domain.Season{Location: precip.Location, Year: year, Status: domain.SeasonUndetermined}

	onset, ok := d.onset(days, rain)
	if !ok {
		d.logger.Debug("no growing season onset", "location", precip.Location, "year", year)
		return result, nil
	}

	var cessation int
	var censored bool
	switch d.cfg.Cessation {
	case WaterBalance:
		cessation, censored = d.waterBalanceCessation(onset, days, rain, valuesByDay(et0))
	default:
		cessation, censored = d.trailingRainfallCessation(onset, rain)
	}

	onsetDate, cessationDate := days[onset], days[cessation]
	result.Status = domain.SeasonDetected
	result.Onset = &onsetDate
	result.Cessation = &cessationDate
	result.CessationCensored = censored
	result.LengthDays = cessation - onset + 1
	for _, r := range rain[onset : cessation+1] {
		result.TotalRainfall += r
	}
	result.DrySpellCount = d.countDrySpells(rain[onset : cessation+1])
	return result, nil
}

// onset returns the index of the first rainy day inside the search window
// whose forward rainfall window meets the threshold and which is not followed
// by a false-start dry spell.
func (d *Detector) onset(days []time.Time, rain []float64) (int, bool) {
	yearStart := time.Date(days[0].Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := range rain {
		doy := int(days[i].Sub(yearStart).Hours()/24) + 1
		if doy < d.cfg.SearchStartDOY {
			continue
		}
		if doy > d.cfg.SearchEndDOY || i+d.cfg.OnsetWindowDays > len(rain) {
			break
		}
		if rain[i] < d.cfg.RainyDayMM {
			continue
		}
		if sum(rain[i:i+d.cfg.OnsetWindowDays]) < d.cfg.OnsetThresholdMM {
			continue
		}
		end := min(i+d.cfg.LookaheadDays, len(rain))
		if d.longestDrySpell(rain[i:end]) >= d.cfg.DrySpellMaxDays {
			continue
		}
		return i, true
	}
	return 0, false
}

func (d *Detector) trailingRainfallCessation(onset int, rain []float64) (int, bool) {
	last := len(rain) - 1
	for i := onset + d.cfg.CessationStartOffsetDays; i+d.cfg.CessationWindowDays <= len(rain); i++ {
		if sum(rain[i:i+d.cfg.CessationWindowDays]) < d.cfg.CessationThresholdMM {
			return i, false
		}
	}
	return last, true
}

func (d *Detector) waterBalanceCessation(onset int, days []time.Time, rain []float64, et0 map[time.Time]float64) (int, bool) {
	water := d.cfg.SoilCapacityMM
	for i := onset; i < len(rain); i++ {
		loss, ok := et0[days[i]]
		if !ok {
			loss = d.cfg.DailyET0MM
		}
		water = max(0, min(d.cfg.SoilCapacityMM, water+rain[i]-loss))
		if i >= onset+d.cfg.CessationStartOffsetDays && water <= 0 {
			return i, false
		}
	}
	return len(rain) - 1, true
}

func (d *Detector) longestDrySpell(rain []float64) int {
	var run, longest int
	for _, r := range rain {
		if r < d.cfg.RainyDayMM {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return longest
}

func (d *Detector) countDrySpells(rain []float64) int {
	var run, count int
	for _, r := range rain {
		if r < d.cfg.RainyDayMM {
			run++
			if run == d.cfg.DrySpellCountMinDays {
				count++
			}
			continue
		}
		run = 0
	}
	return count
}

func valuesByDay(s domain.Series) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(s.Points))
	for _, p := range s.Points {
		if !p.Missing {
			out[p.Time] = p.Value
		}
	}
	return out
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}
