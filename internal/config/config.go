package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreSQLite StoreBackend = "sqlite"
)

type AppConfig struct {
	Port        string
	HTTPTimeout time.Duration

	// SourceTimeout bounds each upstream lookup during an estimate.
	SourceTimeout time.Duration

	// FetchInterval controls how often we estimate each tracked location.
	FetchInterval time.Duration

	// Locations to track.
	Locations []airquality.Location

	StoreBackend    StoreBackend
	SQLitePath      string
	StoreMaxHistory int           // max number of snapshots per location (0 = unlimited)
	StoreMaxAge     time.Duration // max age of snapshots (0 = unlimited)

	WAQIToken          string
	StationRadiusKm    float64
	StationMaxCount    int
	StationFreshness   time.Duration
	SatelliteCacheTTL  time.Duration
	CameraInferenceURL string
	GeocoderAPIKey     string

	Policy     fusion.Policy
	PolicyFile string

	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	cfg := &AppConfig{
		Port:               getenvDefault("PORT", "8080"),
		SQLitePath:         getenvDefault("SQLITE_PATH", "airquality.db"),
		WAQIToken:          os.Getenv("WAQI_TOKEN"),
		CameraInferenceURL: os.Getenv("CAMERA_INFERENCE_URL"),
		GeocoderAPIKey:     os.Getenv("GEOCODER_API_KEY"),
		PolicyFile:         os.Getenv("FUSION_POLICY_FILE"),
		MQTTBroker:         os.Getenv("MQTT_BROKER"),
		MQTTClientID:       getenvDefault("MQTT_CLIENT_ID", "air-quality-fusion"),
		MQTTUsername:       os.Getenv("MQTT_USERNAME"),
		MQTTPassword:       os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix:    getenvDefault("MQTT_TOPIC_PREFIX", "airquality"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getenvDefault("KAFKA_TOPIC", "airquality.snapshots"),
		LogLevel:           getenvDefault("LOG_LEVEL", "info"),
		LogFormat:          getenvDefault("LOG_FORMAT", "text"),
	}

	var err error
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"SOURCE_TIMEOUT", "8s", &cfg.SourceTimeout},
		{"FETCH_INTERVAL", "15m", &cfg.FetchInterval},
		{"STORE_MAX_AGE", "24h", &cfg.StoreMaxAge},
		{"STATION_FRESHNESS", "10m", &cfg.StationFreshness},
		{"SATELLITE_CACHE_TTL", "30m", &cfg.SatelliteCacheTTL},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getenvDefault(d.key, d.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	// roughly 24h at 15-minute intervals
	if cfg.StoreMaxHistory, err = getenvInt("STORE_MAX_HISTORY", 96); err != nil {
		return nil, err
	}
	if cfg.StationMaxCount, err = getenvInt("STATION_MAX_COUNT", 5); err != nil {
		return nil, err
	}
	if cfg.StationRadiusKm, err = getenvFloat("STATION_RADIUS_KM", 50); err != nil {
		return nil, err
	}

	switch backend := StoreBackend(strings.ToLower(getenvDefault("STORE_BACKEND", string(StoreMemory)))); backend {
	case StoreMemory, StoreSQLite:
		cfg.StoreBackend = backend
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want memory or sqlite", backend)
	}

	cfg.Policy = fusion.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if cfg.Policy, err = fusion.LoadPolicy(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("invalid FUSION_POLICY_FILE: %w", err)
		}
	}

	if cfg.Locations, err = loadLocations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Settings maps the configuration onto the estimation service's settings.
func (c *AppConfig) Settings() airquality.Settings {
	return airquality.Settings{
		Policy:           c.Policy,
		SourceTimeout:    c.SourceTimeout,
		StationRadiusKm:  c.StationRadiusKm,
		MaxStations:      c.StationMaxCount,
		StationFreshness: c.StationFreshness,
	}
}

// loadLocations zips LOCATION_CITY, LOCATION_COUNTRY and the optional
// LOCATION_COORDS ("lat:lon" per entry, may be left blank for geocoding).
func loadLocations() ([]airquality.Location, error) {
	cities := splitList(os.Getenv("LOCATION_CITY"))
	if len(cities) == 0 {
		return nil, nil
	}
	countries := splitList(os.Getenv("LOCATION_COUNTRY"))
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}

	var coords []string
	if raw := os.Getenv("LOCATION_COORDS"); raw != "" {
		coords = strings.Split(raw, ",")
		if len(coords) != len(cities) {
			return nil, fmt.Errorf("LOCATION_COORDS must have one entry per city")
		}
	}

	locs := make([]airquality.Location, 0, len(cities))
	for i := range cities {
		loc := airquality.Location{City: cities[i], Country: countries[i]}
		if coords != nil && strings.TrimSpace(coords[i]) != "" {
			c, err := parseCoordinate(coords[i])
			if err != nil {
				return nil, fmt.Errorf("invalid LOCATION_COORDS entry %q: %w", coords[i], err)
			}
			loc.Lat, loc.Lon = c.Lat, c.Lon
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func parseCoordinate(s string) (fusion.Coordinate, error) {
	lat, lon, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return fusion.Coordinate{}, fmt.Errorf("want lat:lon")
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return fusion.Coordinate{}, err
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return fusion.Coordinate{}, err
	}
	return fusion.NewCoordinate(la, lo)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
