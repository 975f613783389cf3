package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/season"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers    []string
	KafkaSinkTopic  string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Upstream dataset configuration.
	Dataset          source.Dataset
	SourceBaseURL    string
	SourceTimeout    time.Duration
	SourceRateLimit  float64
	SourceMaxRetries int
	// ReplayFile serves a recorded snapshot instead of calling the dataset.
	ReplayFile string

	// Batch configuration.
	Locations         []domain.Location
	Workers           int
	BaselineStartYear int
	BaselineEndYear   int
	AnalysisStartYear int
	AnalysisEndYear   int
	SPIWindows        []int
	Granularity       domain.Granularity
	Crop              string
	SeasonCessation   season.CessationRule
	ProfileCacheSize  int
	PublishTimeout    time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	dataset, err := source.ParseDataset(sharedcfg.EnvOrDefault("DATASET", string(source.NASAPower)))
	if err != nil {
		return nil, fmt.Errorf("invalid DATASET: %w", err)
	}

	sourceTimeout, err := parseDuration("SOURCE_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	publishTimeout, err := parseDuration("PUBLISH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("SOURCE_RATE_LIMIT", "2"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid SOURCE_RATE_LIMIT")
	}

	maxRetries, err := parseInt("SOURCE_MAX_RETRIES", 3, 0)
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("WORKERS", 4, 1)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("PROFILE_CACHE_SIZE", 256, 1)
	if err != nil {
		return nil, err
	}

	locations, err := ParseLocations(sharedcfg.EnvOrDefault("LOCATIONS", "nairobi:-1.286:36.817"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATIONS: %w", err)
	}

	baselineStart, baselineEnd, err := parseYears("BASELINE_YEARS", "1991-2020")
	if err != nil {
		return nil, err
	}
	analysisStart, analysisEnd, err := parseYears("ANALYSIS_YEARS", "2024")
	if err != nil {
		return nil, err
	}

	windows, err := parseWindows(sharedcfg.EnvOrDefault("SPI_WINDOWS", "1,3,6"))
	if err != nil {
		return nil, err
	}

	granularity, err := domain.ParseGranularity(sharedcfg.EnvOrDefault("GRANULARITY", string(domain.Monthly)))
	if err != nil {
		return nil, fmt.Errorf("invalid GRANULARITY: %w", err)
	}

	cessation := season.CessationRule(sharedcfg.EnvOrDefault("SEASON_CESSATION", string(season.TrailingRainfall)))
	if cessation != season.TrailingRainfall && cessation != season.WaterBalance {
		return nil, fmt.Errorf("invalid SEASON_CESSATION %q", cessation)
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "climate-indicators"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		Dataset:          dataset,
		SourceBaseURL:    os.Getenv("SOURCE_BASE_URL"),
		SourceTimeout:    sourceTimeout,
		SourceRateLimit:  rateLimit,
		SourceMaxRetries: maxRetries,
		ReplayFile:       os.Getenv("REPLAY_FILE"),

		Locations:         locations,
		Workers:           workers,
		BaselineStartYear: baselineStart,
		BaselineEndYear:   baselineEnd,
		AnalysisStartYear: analysisStart,
		AnalysisEndYear:   analysisEnd,
		SPIWindows:        windows,
		Granularity:       granularity,
		Crop:              strings.ToLower(os.Getenv("CROP")),
		SeasonCessation:   cessation,
		ProfileCacheSize:  cacheSize,
		PublishTimeout:    publishTimeout,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.BaselineEndYear-cfg.BaselineStartYear+1 < 2 {
		return nil, errors.New("BASELINE_YEARS must span at least two years")
	}

	return cfg, nil
}

// ParseLocations parses "id:lat:lon" entries separated by commas.
func ParseLocations(s string) ([]domain.Location, error) {
	var out []domain.Location
	seen := make(map[string]bool)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("location %q is not id:lat:lon", entry)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("location %q has invalid latitude", entry)
		}
		lon, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("location %q has invalid longitude", entry)
		}
		if seen[parts[0]] {
			return nil, fmt.Errorf("location %q listed twice", parts[0])
		}
		seen[parts[0]] = true
		out = append(out, domain.Location{ID: parts[0], Lat: lat, Lon: lon})
	}
	if len(out) == 0 {
		return nil, errors.New("no locations")
	}
	return out, nil
}

func parseDuration(name, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseInt(name string, fallback, minimum int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", name, minimum)
	}
	return n, nil
}

// parseYears accepts "2024" or "1991-2020".
func parseYears(name, fallback string) (int, int, error) {
	s := sharedcfg.EnvOrDefault(name, fallback)
	from, to, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s", name)
	}
	end := start
	if found {
		if end, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
			return 0, 0, fmt.Errorf("invalid %s", name)
		}
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid %s: %d is after %d", name, start, end)
	}
	return start, end, nil
}

func parseWindows(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		w, err := strconv.Atoi(part)
		if err != nil || w < 1 || w > 48 {
			return nil, fmt.Errorf("invalid SPI_WINDOWS entry %q", part)
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		return nil, errors.New("SPI_WINDOWS is required")
	}
	return out, nil
}
