package season

import (
	"math"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
)

// solarConstant is Gsc in MJ m⁻² min⁻¹.
const solarConstant = 0.0820

// HargreavesET0 estimates daily reference evapotranspiration (mm/day) from
// the daily temperature range and extraterrestrial radiation at latDeg.
// Returns 0 when tmax < tmin.
func HargreavesET0(tmin, tmax, latDeg float64, date time.Time) float64 {
	if tmax < tmin || math.IsNaN(tmin) || math.IsNaN(tmax) {
		return 0
	}
	j := float64(date.YearDay())
	lat := latDeg * math.Pi / 180
	decl := 0.409 * math.Sin(2*math.Pi/365*j-1.39)
	dr := 1 + 0.033*math.Cos(2*math.Pi/365*j)
	ws := math.Acos(min(max(-math.Tan(lat)*math.Tan(decl), -1), 1))

	ra := 24 * 60 / math.Pi * solarConstant * dr *
		(ws*math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Sin(ws))

	tmean := (tmax + tmin) / 2
	return 0.0023 * math.Sqrt(tmax-tmin) * (tmean + 17.8) * ra
}

// ReferenceET0Series joins daily minimum and maximum temperature by day and
// returns a daily ET0 series over the days covered by tmin. Days where either
// input is missing are missing in the output.
func ReferenceET0Series(tmin, tmax domain.Series, latDeg float64) (domain.Series, error) {
	if tmin.Variable != domain.TemperatureMin || tmax.Variable != domain.TemperatureMax {
		return domain.Series{}, domain.NewValidationError("reference ET0 needs temperature_min and temperature_max, got %q and %q", tmin.Variable, tmax.Variable)
	}
	if tmin.Location != tmax.Location {
		return domain.Series{}, domain.NewValidationError("temperature locations differ: %q and %q", tmin.Location, tmax.Location)
	}
	hi := valuesByDay(tmax)

	out := domain.Series{Location: tmin.Location, Variable: domain.ReferenceET0, Points: make([]domain.Point, 0, len(tmin.Points))}
	for _, p := range tmin.Points {
		pt := domain.Point{Time: p.Time, Location: p.Location, Variable: domain.ReferenceET0}
		h, ok := hi[p.Time]
		if p.Missing || !ok {
			pt.Missing = true
		} else {
			pt.Value = HargreavesET0(p.Value, h, latDeg, p.Time)
		}
		out.Points = append(out.Points, pt)
	}
	return out, nil
}
