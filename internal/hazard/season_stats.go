package hazard

import (
	"fmt"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SeasonStats summarizes daily observations between onset and cessation.
// The temperature, ET0 and water balance blocks are present only when their
// inputs are.
type SeasonStats struct {
	Start             time.Time          `json:"start"`
	End               time.Time          `json:"end"`
	Days              int                `json:"days"`
	TotalPrecipMM     float64            `json:"total_precipitation_mm"`
	MeanDailyPrecipMM float64            `json:"mean_daily_precipitation_mm"`
	StdDailyPrecipMM  float64            `json:"std_daily_precipitation_mm"`
	MaxDailyPrecipMM  float64            `json:"max_daily_precipitation_mm"`
	RainyDays         int                `json:"rainy_days"`
	DryDays           int                `json:"dry_days"`
	MeanTempC         *float64           `json:"mean_temperature_c,omitempty"`
	Temperature       *TemperatureStats  `json:"temperature,omitempty"`
	ET0               *ET0Stats          `json:"et0,omitempty"`
	WaterBalance      *WaterBalanceStats `json:"water_balance,omitempty"`
}

// TemperatureStats describes daily extremes in °C.
type TemperatureStats struct {
	MeanMaxC      float64 `json:"mean_tmax_c"`
	MeanMinC      float64 `json:"mean_tmin_c"`
	MaxMaxC       float64 `json:"max_tmax_c"`
	MinMinC       float64 `json:"min_tmin_c"`
	DiurnalRangeC float64 `json:"diurnal_range_c"`
}

// ET0Stats describes daily reference evapotranspiration in mm.
type ET0Stats struct {
	TotalMM     float64 `json:"total_mm"`
	MeanDailyMM float64 `json:"mean_daily_mm"`
	MaxDailyMM  float64 `json:"max_daily_mm"`
	MinDailyMM  float64 `json:"min_daily_mm"`
}

// WaterBalanceStats describes the daily balance precipitation − ET0 over days
// where both are observed.
type WaterBalanceStats struct {
	TotalMM          float64 `json:"total_mm"`
	MeanDailyMM      float64 `json:"mean_daily_mm"`
	DeficitDays      int     `json:"deficit_days"`
	SurplusDays      int     `json:"surplus_days"`
	MaxDeficitMM     float64 `json:"max_deficit_mm"`
	MaxSurplusMM     float64 `json:"max_surplus_mm"`
	WaterStressRatio float64 `json:"water_stress_ratio"`
}

// rainyDayMM separates rainy from dry days in season statistics.
const rainyDayMM = 1.0

// kelvinOffset converts reanalysis temperatures reported in Kelvin.
const kelvinOffset = 273.15

// SummarizeSeason computes season statistics over [start, end]. tmax, tmin
// and et0 are optional. Temperature series whose mean is clearly not Celsius
// are converted from Kelvin.
func SummarizeSeason(precip, tmax, tmin, et0 domain.Series, start, end time.Time) (SeasonStats, error) {
	if end.Before(start) {
		return SeasonStats{}, domain.NewValidationError("season end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	season := precip.Between(start, end)
	rain := values(season)
	if len(rain) == 0 {
		return SeasonStats{}, fmt.Errorf("summarize season: %w", domain.ErrMissingValue)
	}

	st := SeasonStats{
		Start:             domain.Day(start),
		End:               domain.Day(end),
		Days:              int(domain.Day(end).Sub(domain.Day(start)).Hours()/24) + 1,
		TotalPrecipMM:     floats.Sum(rain),
		MeanDailyPrecipMM: floats.Sum(rain) / float64(len(rain)),
		MaxDailyPrecipMM:  floats.Max(rain),
	}
	if len(rain) > 1 {
		st.StdDailyPrecipMM = stat.StdDev(rain, nil)
	}
	for _, r := range rain {
		if r > rainyDayMM {
			st.RainyDays++
		} else {
			st.DryDays++
		}
	}

	st.MeanTempC, st.Temperature = temperatureStats(tmax.Between(start, end), tmin.Between(start, end))
	evap := et0.Between(start, end)
	st.ET0 = et0Stats(values(evap))
	st.WaterBalance = waterBalance(season, observed(evap))
	return st, nil
}

func temperatureStats(tmax, tmin domain.Series) (*float64, *TemperatureStats) {
	hiOffset, loOffset := kelvin(values(tmax)), kelvin(values(tmin))
	lo := observed(tmin)
	var mid, maxs, mins, ranges []float64
	for _, p := range tmax.Points {
		if p.Missing {
			continue
		}
		l, ok := lo[domain.Day(p.Time)]
		if !ok {
			continue
		}
		h := p.Value - hiOffset
		l -= loOffset
		maxs = append(maxs, h)
		mins = append(mins, l)
		mid = append(mid, (h+l)/2)
		ranges = append(ranges, h-l)
	}
	if len(mid) == 0 {
		return nil, nil
	}
	mean := stat.Mean(mid, nil)
	return &mean, &TemperatureStats{
		MeanMaxC:      stat.Mean(maxs, nil),
		MeanMinC:      stat.Mean(mins, nil),
		MaxMaxC:       floats.Max(maxs),
		MinMinC:       floats.Min(mins),
		DiurnalRangeC: stat.Mean(ranges, nil),
	}
}

func et0Stats(vals []float64) *ET0Stats {
	if len(vals) == 0 {
		return nil
	}
	return &ET0Stats{
		TotalMM:     floats.Sum(vals),
		MeanDailyMM: stat.Mean(vals, nil),
		MaxDailyMM:  floats.Max(vals),
		MinDailyMM:  floats.Min(vals),
	}
}

func waterBalance(rain domain.Series, evap map[time.Time]float64) *WaterBalanceStats {
	var balance []float64
	for _, p := range rain.Points {
		if e, ok := evap[domain.Day(p.Time)]; ok && !p.Missing {
			balance = append(balance, p.Value-e)
		}
	}
	if len(balance) == 0 {
		return nil
	}
	wb := &WaterBalanceStats{
		TotalMM:      floats.Sum(balance),
		MeanDailyMM:  stat.Mean(balance, nil),
		MaxDeficitMM: floats.Min(balance),
		MaxSurplusMM: floats.Max(balance),
	}
	for _, b := range balance {
		switch {
		case b < 0:
			wb.DeficitDays++
		case b > 0:
			wb.SurplusDays++
		}
	}
	wb.WaterStressRatio = float64(wb.DeficitDays) / float64(len(balance))
	return wb
}

// kelvin returns the offset converting vals to Celsius: kelvinOffset when
// their mean is above 100, zero otherwise.
func kelvin(vals []float64) float64 {
	if len(vals) > 0 && stat.Mean(vals, nil) > 100 {
		return kelvinOffset
	}
	return 0
}

func values(s domain.Series) []float64 {
	var out []float64
	for _, p := range s.Points {
		if !p.Missing {
			out = append(out, p.Value)
		}
	}
	return out
}

func observed(s domain.Series) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(s.Points))
	for _, p := range s.Points {
		if !p.Missing {
			out[domain.Day(p.Time)] = p.Value
		}
	}
	return out
}
