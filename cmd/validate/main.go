// Command validate checks a replay snapshot before it is used for a batch:
// every configured location must have each variable, cover the requested
// years, stay within physical ranges, and keep daily minimum, mean and
// maximum temperature ordered.
//
// Usage:
//
//	go run ./cmd/validate -snapshot data/snapshot.json -from 1991 -to 2024 \
//	  -locations nairobi:-1.286:36.817,kisumu:-0.09:34.77
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/config"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
)

var required = []domain.Variable{
	domain.Precipitation,
	domain.Temperature,
	domain.TemperatureMax,
	domain.TemperatureMin,
}

// Physical plausibility bounds for daily values.
const (
	maxDailyRain  = 1000.0
	minTempC      = -90.0
	maxTempC      = 60.0
	tempTolerance = 0.5
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	path := flag.String("snapshot", "", "path to the snapshot file")
	from := flag.Int("from", 0, "first year the snapshot must cover")
	to := flag.Int("to", 0, "last year the snapshot must cover")
	locs := flag.String("locations", "", "id:lat:lon entries expected in the snapshot (default: every location present)")
	maxGaps := flag.Float64("max-gaps", 0.1, "largest tolerated fraction of missing days per series")
	flag.Parse()

	if *path == "" || *from == 0 || *to < *from {
		flag.Usage()
		os.Exit(1)
	}

	_, snap, err := source.OpenSnapshot(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	var expected []string
	if *locs != "" {
		parsed, err := config.ParseLocations(*locs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: -locations: %v\n", err)
			os.Exit(1)
		}
		for _, l := range parsed {
			expected = append(expected, l.ID)
		}
	}

	start := time.Date(*from, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(*to, time.December, 31, 0, 0, 0, 0, time.UTC)

	fmt.Println("=== Snapshot Validation ===")
	fmt.Printf("%s: dataset %s, created %s, %d series\n",
		*path, snap.Dataset, snap.CreatedAt.Format(time.RFC3339), len(snap.Series))

	if code := report(validate(snap, expected, start, end, *maxGaps)); code != 0 {
		os.Exit(code)
	}
}

func validate(snap source.Snapshot, expected []string, start, end time.Time, maxGaps float64) []*phase {
	index := indexSeries(snap.Series)
	if len(expected) == 0 {
		for loc := range index {
			expected = append(expected, loc)
		}
	}
	return []*phase{
		validateCoverage(index, expected, start, end, maxGaps),
		validateRanges(snap.Series),
		validateTemperatureOrder(index),
	}
}

func report(phases []*phase) int {
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func indexSeries(all []domain.Series) map[string]map[domain.Variable]domain.Series {
	out := make(map[string]map[domain.Variable]domain.Series)
	for _, s := range all {
		if out[s.Location] == nil {
			out[s.Location] = make(map[domain.Variable]domain.Series)
		}
		out[s.Location][s.Variable] = s
	}
	return out
}

// ── Phases ──

func validateCoverage(index map[string]map[domain.Variable]domain.Series, expected []string, start, end time.Time, maxGaps float64) *phase {
	p := &phase{name: "Coverage"}
	days := int(end.Sub(start).Hours()/24) + 1
	for _, loc := range expected {
		for _, v := range required {
			s, ok := index[loc][v]
			if !ok {
				p.errorf("%s: no %s series", loc, v)
				continue
			}
			window := s.Between(start, end.Add(24*time.Hour-time.Nanosecond))
			present := 0
			for _, pt := range window.Points {
				if !pt.Missing {
					present++
				}
			}
			if gaps := 1 - float64(present)/float64(days); gaps > maxGaps {
				p.errorf("%s %s: %.1f%% of days missing between %s and %s",
					loc, v, gaps*100, start.Format(time.DateOnly), end.Format(time.DateOnly))
			}
		}
	}
	return p
}

func validateRanges(all []domain.Series) *phase {
	p := &phase{name: "Physical ranges"}
	for _, s := range all {
		for _, pt := range s.Points {
			if pt.Missing {
				continue
			}
			day := pt.Time.Format(time.DateOnly)
			switch s.Variable {
			case domain.Precipitation:
				if pt.Value > maxDailyRain {
					p.errorf("%s %s: rainfall %.1f mm exceeds %.0f", s.Location, day, pt.Value, maxDailyRain)
				}
			case domain.Temperature, domain.TemperatureMax, domain.TemperatureMin:
				if pt.Value < minTempC || pt.Value > maxTempC {
					p.errorf("%s %s: %s %.1f °C outside [%.0f, %.0f]", s.Location, day, s.Variable, pt.Value, minTempC, maxTempC)
				}
			}
		}
	}
	return p
}

func validateTemperatureOrder(index map[string]map[domain.Variable]domain.Series) *phase {
	p := &phase{name: "Temperature ordering (min <= mean <= max)"}
	for loc, vars := range index {
		tmin := values(vars[domain.TemperatureMin])
		tmax := values(vars[domain.TemperatureMax])
		tmean := values(vars[domain.Temperature])
		for day, lo := range tmin {
			hi, ok := tmax[day]
			if !ok {
				continue
			}
			if lo > hi+tempTolerance {
				p.errorf("%s %s: minimum %.1f above maximum %.1f", loc, day.Format(time.DateOnly), lo, hi)
				continue
			}
			if mean, ok := tmean[day]; ok && (mean < lo-tempTolerance || mean > hi+tempTolerance) {
				p.errorf("%s %s: mean %.1f outside [%.1f, %.1f]", loc, day.Format(time.DateOnly), mean, lo, hi)
			}
		}
	}
	return p
}

func values(s domain.Series) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(s.Points))
	for _, pt := range s.Points {
		if !pt.Missing {
			out[domain.Day(pt.Time)] = pt.Value
		}
	}
	return out
}
