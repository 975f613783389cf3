// Package engine exposes the indicator computations behind a uniform
// response envelope.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/anomaly"
	"github.com/couchcryptid/climate-indicator-service/internal/climatology"
	"github.com/couchcryptid/climate-indicator-service/internal/compare"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/hazard"
	"github.com/couchcryptid/climate-indicator-service/internal/season"
)

// Options configures every component behind the Service.
type Options struct {
	Climatology climatology.Config
	Hazard      hazard.Config
	Season      season.Config
}

// DefaultOptions returns the default configuration of every component.
func DefaultOptions() Options {
	return Options{
		Climatology: climatology.DefaultConfig(),
		Hazard:      hazard.DefaultConfig(),
		Season:      season.DefaultConfig(),
	}
}

// Service is stateless after construction and safe for concurrent use.
// Operations taking observations expect gap-explicit daily series and
// aggregate them to the profile's granularity themselves.
type Service struct {
	opts       Options
	calculator *anomaly.Calculator
	hazards    *hazard.Engine
	detector   *season.Detector
	logger     *slog.Logger
}

// New validates opts and wires the components.
func New(opts Options, logger *slog.Logger) (*Service, error) {
	if err := opts.Climatology.Validate(); err != nil {
		return nil, err
	}
	hz, err := hazard.NewEngine(opts.Hazard, logger)
	if err != nil {
		return nil, err
	}
	det, err := season.NewDetector(opts.Season, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		opts:       opts,
		calculator: anomaly.NewCalculator(logger),
		hazards:    hz,
		detector:   det,
		logger:     logger,
	}, nil
}

// Options returns the options the service was created with.
func (s *Service) Options() Options { return s.opts }

// Profile builds a climatology with the configured options and the given
// accumulation window. It is the error-returning form of BuildClimatology.
func (s *Service) Profile(series domain.Series, baseline climatology.Baseline, accumulation int) (*domain.Profile, error) {
	cfg := s.opts.Climatology
	cfg.Accumulation = accumulation
	b, err := climatology.NewBuilder(cfg, s.logger)
	if err != nil {
		return nil, domain.NewValidationError("%v", err)
	}
	return b.Build(series, baseline)
}

// BuildClimatology builds the baseline profile of series over baseline.
func (s *Service) BuildClimatology(series domain.Series, baseline climatology.Baseline, accumulation int) domain.Response[*domain.Profile] {
	p, err := s.Profile(series, baseline, accumulation)
	if err != nil {
		return domain.Fail[*domain.Profile](err)
	}
	msg := fmt.Sprintf("climatology built for %d periods", len(p.Periods))
	if fb := p.FallbackPeriods(); len(fb) > 0 {
		msg += fmt.Sprintf(", empirical fallback for periods %v", fb)
	}
	return domain.OK(p, msg)
}

// Anomalies compares daily observations with profile, period by period. The
// raw series is validated before aggregation so duplicate or out-of-order days
// are rejected instead of merged.
func (s *Service) Anomalies(daily domain.Series, profile *domain.Profile) domain.Response[anomaly.Result] {
	if err := daily.Validate(); err != nil {
		return domain.Fail[anomaly.Result](err)
	}
	if profile == nil {
		return domain.Fail[anomaly.Result](domain.NewValidationError("no climatology profile"))
	}
	periods := daily.AggregatePeriods(profile.Granularity, s.opts.Climatology.MaxMissingFraction)
	res, err := s.calculator.Calculate(periods, profile)
	if err != nil {
		return domain.Fail[anomaly.Result](err)
	}
	return domain.OK(res, withIssues("anomalies computed", len(res.Anomalies), len(res.Issues)))
}

// HazardIndices computes SPI for every window in profiles. All profiles must
// share one granularity.
func (s *Service) HazardIndices(daily domain.Series, profiles map[int]*domain.Profile) domain.Response[hazard.Result] {
	if err := daily.Validate(); err != nil {
		return domain.Fail[hazard.Result](err)
	}
	var g domain.Granularity
	for w, p := range profiles {
		if p == nil {
			return domain.Fail[hazard.Result](domain.NewValidationError("no profile for window %d", w))
		}
		if g != "" && p.Granularity != g {
			return domain.Fail[hazard.Result](domain.NewValidationError("profiles mix %s and %s granularity", g, p.Granularity))
		}
		g = p.Granularity
	}
	periods := daily.AggregatePeriods(g, s.opts.Climatology.MaxMissingFraction)
	res, err := s.hazards.ComputeWindows(periods, profiles)
	if err != nil {
		return domain.Fail[hazard.Result](err)
	}
	return domain.OK(res, withIssues("hazard indices computed", len(res.Values), len(res.Issues)))
}

// DetectSeason finds the growing season in one year of daily precipitation.
// et0 may be empty.
func (s *Service) DetectSeason(precip, et0 domain.Series) domain.Response[domain.Season] {
	out, err := s.detector.DetectWithET0(precip, et0)
	if err != nil {
		return domain.Fail[domain.Season](err)
	}
	if out.Status == domain.SeasonUndetermined {
		return domain.OK(out, "season undetermined")
	}
	return domain.OK(out, fmt.Sprintf("season detected, %d days", out.LengthDays))
}

// ComparePeriods diffs two location-keyed indicator values.
func (s *Service) ComparePeriods(a, b map[string]float64) domain.Response[compare.Result] {
	res := compare.Compare(a, b)
	msg := fmt.Sprintf("%d locations matched", len(res.Matched))
	if n := len(res.OnlyInA) + len(res.OnlyInB); n > 0 {
		msg += fmt.Sprintf(", %d unmatched", n)
	}
	return domain.OK(res, msg)
}

// SeasonStatistics summarizes daily observations over a detected season:
// rainfall, and, when their series are non-empty, temperature extremes, ET0
// and the precipitation − ET0 water balance.
func (s *Service) SeasonStatistics(sn domain.Season, precip, tmax, tmin, et0 domain.Series) domain.Response[hazard.SeasonStats] {
	stats, err := s.seasonStats(sn, precip, tmax, tmin, et0)
	if err != nil {
		return domain.Fail[hazard.SeasonStats](err)
	}
	msg := fmt.Sprintf("season statistics over %d days", stats.Days)
	if stats.WaterBalance != nil {
		msg += fmt.Sprintf(", %d deficit days", stats.WaterBalance.DeficitDays)
	}
	return domain.OK(stats, msg)
}

func (s *Service) seasonStats(sn domain.Season, precip, tmax, tmin, et0 domain.Series) (hazard.SeasonStats, error) {
	if sn.Status != domain.SeasonDetected || sn.Onset == nil || sn.Cessation == nil {
		return hazard.SeasonStats{}, domain.NewValidationError("no growing season detected for %s in %d", sn.Location, sn.Year)
	}
	for _, series := range []domain.Series{precip, tmax, tmin, et0} {
		if series.Len() == 0 {
			continue
		}
		if err := series.Validate(); err != nil {
			return hazard.SeasonStats{}, err
		}
	}
	return hazard.SummarizeSeason(precip, tmax, tmin, et0, *sn.Onset, sn.Cessation.Add(24*time.Hour-time.Nanosecond))
}

// CropAssessment is the crop stress of one detected season.
type CropAssessment struct {
	Season domain.Season      `json:"season"`
	Stats  hazard.SeasonStats `json:"season_statistics"`
	Stress hazard.CropStress  `json:"stress"`
}

// AssessCrop summarizes the detected season and classifies it against the
// crop's thresholds. tmax, tmin and et0 may be empty.
func (s *Service) AssessCrop(crop string, sn domain.Season, precip, tmax, tmin, et0 domain.Series) domain.Response[CropAssessment] {
	stats, err := s.seasonStats(sn, precip, tmax, tmin, et0)
	if err != nil {
		return domain.Fail[CropAssessment](err)
	}
	stress, err := hazard.EvaluateCropStress(crop, stats.TotalPrecipMM, stats.MeanTempC)
	if err != nil {
		return domain.Fail[CropAssessment](err)
	}
	return domain.OK(CropAssessment{Season: sn, Stats: stats, Stress: stress},
		fmt.Sprintf("%s: precipitation %s", stress.Crop, stress.PrecipitationStatus))
}

func withIssues(what string, values, issues int) string {
	if issues == 0 {
		return fmt.Sprintf("%s: %d values", what, values)
	}
	return fmt.Sprintf("%s: %d values, %d issues", what, values, issues)
}
