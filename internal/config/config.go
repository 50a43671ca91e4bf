package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HubTransport   string        `yaml:"hub_transport" validate:"oneof=nats websocket"`
	HubURL         string        `yaml:"hub_url" validate:"required"`
	HubSubject     string        `yaml:"hub_subject"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	BackoffInitial time.Duration `yaml:"backoff_initial" validate:"gt=0"`
	BackoffMax     time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffInitial"`
	BackoffJitter  float64       `yaml:"backoff_jitter" validate:"gte=0,lte=1"`

	RosterSource         string        `yaml:"roster_source" validate:"oneof=http sql"`
	RosterURL            string        `yaml:"roster_url" validate:"required_if=RosterSource http"`
	RosterDBDriver       string        `yaml:"roster_db_driver" validate:"oneof=pgx mysql"`
	DatabaseURL          string        `yaml:"database_url" validate:"required_if=RosterSource sql"`
	TripsRefreshInterval time.Duration `yaml:"trips_refresh_interval" validate:"gte=0"`
	SeedTimeout          time.Duration `yaml:"seed_timeout" validate:"gt=0"`

	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	MetricsAddr string   `yaml:"metrics_addr"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`

	AuthToken     string        `yaml:"auth_token"`
	AuthJWTSecret string        `yaml:"auth_jwt_secret"`
	AuthJWTSubj   string        `yaml:"auth_jwt_subject"`
	AuthJWTTTL    time.Duration `yaml:"auth_jwt_ttl"`
}

func defaults() *Config {
	return &Config{
		HubTransport:         "nats",
		HubURL:               "nats://127.0.0.1:4222",
		HubSubject:           "trips.>",
		ConnectTimeout:       10 * time.Second,
		BackoffInitial:       time.Second,
		BackoffMax:           30 * time.Second,
		BackoffJitter:        0.2,
		RosterSource:         "http",
		RosterDBDriver:       "pgx",
		TripsRefreshInterval: 0,
		SeedTimeout:          15 * time.Second,
		HTTPAddr:             ":8080",
		LogLevel:             "info",
		LogFormat:            "text",
		AuthJWTSubj:          "trip-monitor",
		AuthJWTTTL:           time.Hour,
	}
}

// Load reads .env (if present), then the optional YAML file at path, then
// environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := defaults()

	if path == "" {
		path = os.Getenv("MONITOR_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HubTransport, "HUB_TRANSPORT")
	setString(&cfg.HubURL, "HUB_URL")
	setString(&cfg.HubSubject, "HUB_SUBJECT")
	if err := setMillis(&cfg.ConnectTimeout, "CONNECT_TIMEOUT_MS"); err != nil {
		return err
	}
	if err := setMillis(&cfg.BackoffInitial, "BACKOFF_INITIAL_MS"); err != nil {
		return err
	}
	if err := setMillis(&cfg.BackoffMax, "BACKOFF_MAX_MS"); err != nil {
		return err
	}
	if v := os.Getenv("BACKOFF_JITTER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("invalid BACKOFF_JITTER: %q", v)
		}
		cfg.BackoffJitter = f
	}

	setString(&cfg.RosterSource, "ROSTER_SOURCE")
	setString(&cfg.RosterURL, "ROSTER_URL")
	setString(&cfg.RosterDBDriver, "ROSTER_DB_DRIVER")
	if dsn := firstNonEmpty(os.Getenv("ROSTER_DSN"), os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		cfg.DatabaseURL = dsn
	} else if cfg.DatabaseURL == "" && cfg.RosterDBDriver == "pgx" && os.Getenv("PGDATABASE") != "" {
		cfg.DatabaseURL = pgDSNFromEnv()
	}

	// Trips refresh interval (seconds); 0 disables periodic refresh
	if v := os.Getenv("TRIPS_REFRESH_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return fmt.Errorf("invalid TRIPS_REFRESH_INTERVAL_SEC: %q", v)
		}
		cfg.TripsRefreshInterval = time.Duration(sec) * time.Second
	}
	if err := setMillis(&cfg.SeedTimeout, "SEED_TIMEOUT_MS"); err != nil {
		return err
	}

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	setString(&cfg.MetricsAddr, "METRICS_ADDR")

	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	setString(&cfg.AuthToken, "AUTH_TOKEN")
	setString(&cfg.AuthJWTSecret, "AUTH_JWT_SECRET")
	setString(&cfg.AuthJWTSubj, "AUTH_JWT_SUBJECT")
	if v := os.Getenv("AUTH_JWT_TTL_MIN"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min <= 0 {
			return fmt.Errorf("invalid AUTH_JWT_TTL_MIN: %q", v)
		}
		cfg.AuthJWTTTL = time.Duration(min) * time.Minute
	}
	return nil
}

// pgDSNFromEnv builds a postgres URL from the libpq PG* variables.
func pgDSNFromEnv() string {
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setMillis(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
