package hazard

import "github.com/couchcryptid/climate-indicator-service/internal/domain"

// Classify maps an SPI value to its severity label.
func Classify(index float64) domain.Severity {
	switch {
	case index <= -2.0:
		return domain.ExtremeDrought
	case index <= -1.5:
		return domain.SevereDrought
	case index <= -1.0:
		return domain.ModerateDrought
	case index < 1.0:
		return domain.NearNormalIndex
	case index < 1.5:
		return domain.ModeratelyWet
	case index < 2.0:
		return domain.VeryWet
	default:
		return domain.ExtremelyWet
	}
}
