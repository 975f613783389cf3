package hazard

import (
	"sort"
	"strings"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
)

// StressLevel is the crop stress class of a seasonal value.
type StressLevel string

const (
	NoStress          StressLevel = "no_stress"
	ModerateStressLow StressLevel = "moderate_stress_low"
	ModerateStressUp  StressLevel = "moderate_stress_up"
	SevereStressLow   StressLevel = "severe_stress_low"
	SevereStressUp    StressLevel = "severe_stress_up"
	UnknownStress     StressLevel = "unknown"
)

// Band is a closed interval. A nil bound is open-ended and makes the
// comparison on the other side strict.
type Band struct {
	Lower *float64
	Upper *float64
}

func (b Band) contains(v float64) bool {
	switch {
	case b.Lower == nil && b.Upper == nil:
		return false
	case b.Lower == nil:
		return v < *b.Upper
	case b.Upper == nil:
		return v > *b.Lower
	default:
		return *b.Lower <= v && v <= *b.Upper
	}
}

// Bands holds the five stress bands of one variable, checked in order.
type Bands struct {
	NoStress          Band
	ModerateStressLow Band
	ModerateStressUp  Band
	SevereStressLow   Band
	SevereStressUp    Band
}

// Evaluate returns the first band containing v.
func (b Bands) Evaluate(v float64) StressLevel {
	ordered := []struct {
		level StressLevel
		band  Band
	}{
		{NoStress, b.NoStress},
		{ModerateStressLow, b.ModerateStressLow},
		{ModerateStressUp, b.ModerateStressUp},
		{SevereStressLow, b.SevereStressLow},
		{SevereStressUp, b.SevereStressUp},
	}
	for _, o := range ordered {
		if o.band.contains(v) {
			return o.level
		}
	}
	return UnknownStress
}

// CropThresholds are the seasonal total precipitation (mm) and mean
// temperature (°C) bands of one crop.
type CropThresholds struct {
	TotalPrecip Bands
	MeanTemp    Bands
}

func bound(v float64) *float64 { return &v }

// bands builds the five bands from the four cut points lowSevere < lowOK ≤ highOK < highSevere.
func bands(lowSevere, lowOK, highOK, highSevere float64) Bands {
	return Bands{
		NoStress:          Band{bound(lowOK), bound(highOK)},
		ModerateStressLow: Band{bound(lowSevere), bound(lowOK)},
		ModerateStressUp:  Band{bound(highOK), bound(highSevere)},
		SevereStressLow:   Band{nil, bound(lowSevere)},
		SevereStressUp:    Band{bound(highSevere), nil},
	}
}

var cropThresholds = map[string]CropThresholds{
	"beans":      {TotalPrecip: bands(300, 500, 2000, 4300), MeanTemp: bands(7, 18, 30, 32)},
	"maize":      {TotalPrecip: bands(400, 500, 1200, 1800), MeanTemp: bands(14, 18, 32, 40)},
	"millet":     {TotalPrecip: bands(200, 300, 600, 1700), MeanTemp: bands(12, 16, 32, 40)},
	"groundnuts": {TotalPrecip: bands(200, 400, 1100, 1900), MeanTemp: bands(18, 22, 28, 30)},
	"sorghum":    {TotalPrecip: bands(150, 400, 900, 1400), MeanTemp: bands(8, 21, 32, 40)},
	"cassava":    {TotalPrecip: bands(500, 1400, 1800, 5000), MeanTemp: bands(10, 20, 29, 35)},
	"rice":       {TotalPrecip: bands(1000, 1500, 2000, 4000), MeanTemp: bands(10, 20, 30, 36)},
}

// Crops lists the crops with built-in thresholds.
func Crops() []string {
	out := make([]string, 0, len(cropThresholds))
	for c := range cropThresholds {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ThresholdsFor looks up a crop case-insensitively.
func ThresholdsFor(crop string) (CropThresholds, error) {
	t, ok := cropThresholds[strings.ToLower(strings.TrimSpace(crop))]
	if !ok {
		return CropThresholds{}, domain.NewValidationError("unknown crop %q, available: %s", crop, strings.Join(Crops(), ", "))
	}
	return t, nil
}

// CropStress is the stress assessment of one crop over one season.
type CropStress struct {
	Crop                string      `json:"crop"`
	TotalPrecipMM       float64     `json:"total_precipitation_mm"`
	PrecipitationStatus StressLevel `json:"precipitation_status"`
	MeanTempC           *float64    `json:"mean_temperature_c,omitempty"`
	TemperatureStatus   StressLevel `json:"temperature_status,omitempty"`
}

// EvaluateCropStress classifies a seasonal precipitation total and, when
// meanTempC is non-nil, the seasonal mean temperature.
func EvaluateCropStress(crop string, totalPrecipMM float64, meanTempC *float64) (CropStress, error) {
	t, err := ThresholdsFor(crop)
	if err != nil {
		return CropStress{}, err
	}
	out := CropStress{
		Crop:                strings.ToLower(strings.TrimSpace(crop)),
		TotalPrecipMM:       totalPrecipMM,
		PrecipitationStatus: t.TotalPrecip.Evaluate(totalPrecipMM),
	}
	if meanTempC != nil {
		out.MeanTempC = meanTempC
		out.TemperatureStatus = t.MeanTemp.Evaluate(*meanTempC)
	}
	return out, nil
}
