// Package domain models the climate observations and derived indicators that
// flow through the indicator engine.
//
// # Series
//
// A [Series] holds the observations of one variable at one location, ordered
// by strictly increasing UTC timestamp. Gaps are never omitted: a day without
// data is a [Point] with Missing set. Upstream source clients are responsible
// for producing gap-explicit series (see [FillDaily]); the engine rejects
// anything else with an [ErrInputValidation] error.
//
// Units:
//
//	precipitation      mm (daily total)
//	temperature        °C (daily mean)
//	temperature_max    °C
//	temperature_min    °C
//	reference_et0      mm (daily, Hargreaves)
//
// # Calendar periods
//
// Baselines are computed per calendar period. Two granularities exist:
//
//	month  keys 1–12
//	dekad  keys 1–36; each month splits into days 1–10, 11–20 and 21–end
//
// A daily series is collapsed into period instances with [Series.AggregatePeriods].
// Precipitation instances are totals, temperature instances are means. An
// instance whose share of missing days exceeds the allowed fraction becomes a
// missing point, which mirrors the WMO habit of discarding years with less than
// 80% coverage when computing normals.
//
// # Standardized Precipitation Index
//
// SPI maps an accumulated precipitation total through the zero-inflated gamma
// distribution fitted for its calendar period and then through the inverse
// standard normal CDF:
//
//	P(X ≤ x) = q + (1 − q) · Γcdf(x; shape, scale)   for x > 0
//	SPI      = Φ⁻¹(P)
//
// Severity classes follow McKee et al. (1993):
//
//	≤ −2.0        extreme drought
//	(−2.0, −1.5]  severe drought
//	(−1.5, −1.0]  moderate drought
//	(−1.0,  1.0)  near normal
//	[ 1.0,  1.5)  moderately wet
//	[ 1.5,  2.0)  very wet
//	≥  2.0        extremely wet
//
// # Responses
//
// Every public engine operation returns a [Response] envelope carrying a
// status code, a status string, a message and the payload. Failures scoped to
// one point or one location are reported inside the payload; the envelope
// status only reflects whether the call as a whole produced a result.
package domain
