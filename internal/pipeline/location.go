package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/anomaly"
	"github.com/couchcryptid/climate-indicator-service/internal/climatology"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/engine"
	"github.com/couchcryptid/climate-indicator-service/internal/hazard"
	"github.com/couchcryptid/climate-indicator-service/internal/season"
)

// Outcome summarizes how much of a location's work succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// LocationResult carries every indicator computed for one location.
type LocationResult struct {
	RunID       string                             `json:"run_id"`
	Dataset     string                             `json:"dataset"`
	Location    domain.Location                    `json:"location"`
	ProcessedAt time.Time                          `json:"processed_at"`
	Anomalies   map[domain.Variable]anomaly.Result `json:"anomalies,omitempty"`
	SPI         *hazard.Result                     `json:"spi,omitempty"`
	Seasons     []domain.Season                    `json:"seasons,omitempty"`
	SeasonStats []hazard.SeasonStats               `json:"season_statistics,omitempty"`
	Crops       []engine.CropAssessment            `json:"crops,omitempty"`
	Errors      []string                           `json:"errors,omitempty"`

	errs []error
}

// Outcome is success without errors, failed when nothing was produced, and
// partial otherwise.
func (r LocationResult) Outcome() Outcome {
	switch {
	case len(r.Errors) == 0:
		return OutcomeSuccess
	case len(r.Anomalies) == 0 && r.SPI == nil && len(r.Seasons) == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

func (r LocationResult) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", r.Location.ID, errors.Join(r.errs...))
}

func (r *LocationResult) fail(err error) {
	r.errs = append(r.errs, err)
	r.Errors = append(r.Errors, err.Error())
}

// process computes every indicator for one location. It never returns an
// error; failures are recorded on the result.
func (p *Pipeline) process(ctx context.Context, runID string, loc domain.Location) LocationResult {
	start := time.Now()
	logger := p.logger.With("run_id", runID, "location", loc.ID)
	res := LocationResult{
		RunID:       runID,
		Dataset:     p.opts.Dataset,
		Location:    loc,
		ProcessedAt: domain.Now(),
		Anomalies:   make(map[domain.Variable]anomaly.Result),
	}

	// Rainfall starts early enough for the widest SPI window to be full at
	// the first analysis period.
	lead, err := p.fetcher.Fetch(ctx, loc, domain.Precipitation, p.spiLeadStart(), p.opts.AnalysisEnd)
	precip := lead.Between(p.opts.AnalysisStart, p.opts.AnalysisEnd)
	if err != nil {
		res.fail(fmt.Errorf("fetch precipitation: %w", err))
	} else {
		p.precipitationIndicators(ctx, loc, lead, precip, &res)
	}

	p.temperatureAnomalies(ctx, loc, &res)

	if err == nil {
		p.seasons(ctx, loc, precip, &res)
	}

	outcome := res.Outcome()
	p.metrics.LocationsProcessed.WithLabelValues(string(outcome)).Inc()
	p.metrics.LocationDuration.Observe(time.Since(start).Seconds())
	if outcome == OutcomeSuccess {
		logger.Info("location processed", "duration", time.Since(start))
	} else {
		logger.Warn("location processed with errors", "outcome", outcome, "errors", len(res.Errors), "error", res.err())
	}
	return res
}

// precipitationIndicators computes anomalies over precip and SPI over lead,
// which extends precip backwards by the widest window.
func (p *Pipeline) precipitationIndicators(ctx context.Context, loc domain.Location, lead, precip domain.Series, res *LocationResult) {
	profiles := make(map[int]*domain.Profile)
	for _, w := range p.windows() {
		prof, err := p.profiles.Profile(ctx, p.key(loc, domain.Precipitation, w))
		if err != nil {
			res.fail(fmt.Errorf("precipitation climatology (window %d): %w", w, err))
			continue
		}
		profiles[w] = prof
	}

	if base, ok := profiles[1]; ok {
		p.anomalies(precip, base, res)
	}

	spi := make(map[int]*domain.Profile, len(p.opts.Windows))
	for _, w := range p.opts.Windows {
		if prof, ok := profiles[w]; ok {
			spi[w] = prof
		}
	}
	if len(spi) == 0 {
		return
	}
	resp := p.service.HazardIndices(lead, spi)
	if !resp.Succeeded() {
		res.fail(fmt.Errorf("spi: %s", resp.Message))
		return
	}
	out := p.withinAnalysis(resp.Data)
	res.SPI = &out
	p.metrics.IndicatorsProduced.WithLabelValues("spi").Add(float64(len(out.Values)))
}

// spiLeadStart is the start of the period instance max(Windows)-1 instances
// before the first analysis period.
func (p *Pipeline) spiLeadStart() time.Time {
	g := p.service.Options().Climatology.Granularity
	start := g.Start(p.opts.AnalysisStart)
	widest := 1
	for _, w := range p.opts.Windows {
		widest = max(widest, w)
	}
	for range widest - 1 {
		start = g.Prev(start)
	}
	return start
}

// withinAnalysis drops values and issues stamped before the first analysis period.
func (p *Pipeline) withinAnalysis(r hazard.Result) hazard.Result {
	first := p.service.Options().Climatology.Granularity.Start(p.opts.AnalysisStart)
	out := hazard.Result{}
	for _, v := range r.Values {
		if !v.Time.Before(first) {
			out.Values = append(out.Values, v)
		}
	}
	for _, i := range r.Issues {
		if !i.Time.Before(first) {
			out.Issues = append(out.Issues, i)
		}
	}
	return out
}

func (p *Pipeline) temperatureAnomalies(ctx context.Context, loc domain.Location, res *LocationResult) {
	temp, err := p.fetcher.Fetch(ctx, loc, domain.Temperature, p.opts.AnalysisStart, p.opts.AnalysisEnd)
	if err != nil {
		res.fail(fmt.Errorf("fetch temperature: %w", err))
		return
	}
	base, err := p.profiles.Profile(ctx, p.key(loc, domain.Temperature, 1))
	if err != nil {
		res.fail(fmt.Errorf("temperature climatology: %w", err))
		return
	}
	p.anomalies(temp, base, res)
}

func (p *Pipeline) anomalies(daily domain.Series, base *domain.Profile, res *LocationResult) {
	resp := p.service.Anomalies(daily, base)
	if !resp.Succeeded() {
		res.fail(fmt.Errorf("%s anomalies: %s", daily.Variable, resp.Message))
		return
	}
	res.Anomalies[daily.Variable] = resp.Data
	p.metrics.IndicatorsProduced.WithLabelValues("anomaly").Add(float64(len(resp.Data.Anomalies)))
}

// seasons detects one growing season per analysis year and summarizes each
// detected one. Daily extremes feed Hargreaves ET0, the water balance and crop
// temperature stress when the dataset has them.
func (p *Pipeline) seasons(ctx context.Context, loc domain.Location, precip domain.Series, res *LocationResult) {
	tmax, tmin, et0 := p.extremes(ctx, loc)

	for year := p.opts.AnalysisStart.Year(); year <= p.opts.AnalysisEnd.Year(); year++ {
		rain := precip.Year(year)
		if rain.Len() == 0 {
			continue
		}
		resp := p.service.DetectSeason(rain, et0.Year(year))
		if !resp.Succeeded() {
			res.fail(fmt.Errorf("season %d: %s", year, resp.Message))
			continue
		}
		res.Seasons = append(res.Seasons, resp.Data)
		p.metrics.IndicatorsProduced.WithLabelValues("season").Inc()

		if resp.Data.Status != domain.SeasonDetected {
			continue
		}
		stats := p.service.SeasonStatistics(resp.Data, rain, tmax.Year(year), tmin.Year(year), et0.Year(year))
		if !stats.Succeeded() {
			res.fail(fmt.Errorf("season statistics %d: %s", year, stats.Message))
		} else {
			res.SeasonStats = append(res.SeasonStats, stats.Data)
			p.metrics.IndicatorsProduced.WithLabelValues("season_statistics").Inc()
		}

		if p.opts.Crop == "" {
			continue
		}
		crop := p.service.AssessCrop(p.opts.Crop, resp.Data, rain, tmax.Year(year), tmin.Year(year), et0.Year(year))
		if !crop.Succeeded() {
			res.fail(fmt.Errorf("crop stress %d: %s", year, crop.Message))
			continue
		}
		res.Crops = append(res.Crops, crop.Data)
		p.metrics.IndicatorsProduced.WithLabelValues("crop").Inc()
	}
}

// extremes fetches daily tmax and tmin and derives ET0 from them. Any of the
// returned series may be empty.
func (p *Pipeline) extremes(ctx context.Context, loc domain.Location) (tmax, tmin, et0 domain.Series) {
	logger := p.logger.With("location", loc.ID)
	var err error
	if tmax, err = p.fetcher.Fetch(ctx, loc, domain.TemperatureMax, p.opts.AnalysisStart, p.opts.AnalysisEnd); err != nil {
		logger.Warn("daily maximum temperature unavailable", "error", err)
		return domain.Series{}, domain.Series{}, domain.Series{}
	}
	if tmin, err = p.fetcher.Fetch(ctx, loc, domain.TemperatureMin, p.opts.AnalysisStart, p.opts.AnalysisEnd); err != nil {
		logger.Warn("daily minimum temperature unavailable", "error", err)
		return domain.Series{}, domain.Series{}, domain.Series{}
	}
	if et0, err = season.ReferenceET0Series(tmin, tmax, loc.Lat); err != nil {
		logger.Warn("reference evapotranspiration unavailable", "error", err)
		return tmax, tmin, domain.Series{}
	}
	return tmax, tmin, et0
}

// windows returns the SPI windows plus window 1, which anomalies need.
func (p *Pipeline) windows() []int {
	out := []int{1}
	for _, w := range p.opts.Windows {
		if w != 1 {
			out = append(out, w)
		}
	}
	return out
}

func (p *Pipeline) key(loc domain.Location, v domain.Variable, window int) climatology.Key {
	return climatology.Key{
		Location:     loc.ID,
		Lat:          loc.Lat,
		Lon:          loc.Lon,
		Variable:     v,
		Granularity:  p.service.Options().Climatology.Granularity,
		Start:        p.opts.Baseline.Start,
		End:          p.opts.Baseline.End,
		Accumulation: window,
	}
}
