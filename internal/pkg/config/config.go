package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Zones     ZonesConfig     `mapstructure:"zones"`
	Index     IndexConfig     `mapstructure:"index"`
	Shapes    ShapesConfig    `mapstructure:"shapes"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
}

type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        int           `mapstructure:"read_timeout"`
	WriteTimeout       int           `mapstructure:"write_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	OpenAPIPath        string        `mapstructure:"openapi_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr     string        `mapstructure:"addr"`
	// LocalTTL bounds client-side caching of reads; zero disables it.
	LocalTTL time.Duration `mapstructure:"local_ttl"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort   string `mapstructure:"host_port"`
	Namespace  string `mapstructure:"namespace"`
	TaskQueue  string `mapstructure:"task_queue"`
	ImportCron string `mapstructure:"import_cron"`
}

// ZonesConfig controls the in-memory zone snapshot.
type ZonesConfig struct {
	DatasetURL        string        `mapstructure:"dataset_url"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	SimplifyTolerance float64       `mapstructure:"simplify_tolerance"`
}

type IndexConfig struct {
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type ShapesConfig struct {
	DetailZoomThreshold int           `mapstructure:"detail_zoom_threshold"`
	QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
}

// GeocoderConfig controls the upstream geocoder and its cache.
type GeocoderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	NegativeTTL       time.Duration `mapstructure:"negative_ttl"`
	MemoryEntries     int           `mapstructure:"memory_entries"`
}

// Load reads configuration from .env, an optional config file and
// environment variables, in increasing order of precedence.
func Load(service string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.openapi_path", "api/openapi.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "opzones")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "opzones")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.local_ttl", 30*time.Second)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "zone-import")
	v.SetDefault("temporal.import_cron", "0 6 * * *")
	v.SetDefault("zones.dataset_url", "https://opportunityzones.hud.gov/arcgis/rest/services/Opportunity_Zones/FeatureServer/13/query?where=1%3D1&outFields=*&f=geojson")
	v.SetDefault("zones.refresh_interval", 24*time.Hour)
	v.SetDefault("zones.fetch_timeout", 60*time.Second)
	v.SetDefault("zones.simplify_tolerance", 0.0005)
	v.SetDefault("index.query_timeout", 2*time.Second)
	v.SetDefault("shapes.detail_zoom_threshold", 12)
	v.SetDefault("shapes.query_timeout", 5*time.Second)
	v.SetDefault("shapes.cache_ttl", 10*time.Minute)
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "opzones/1.0")
	v.SetDefault("geocoder.timeout", 10*time.Second)
	v.SetDefault("geocoder.requests_per_second", 1.0)
	v.SetDefault("geocoder.burst", 1)
	v.SetDefault("geocoder.cache_ttl", 30*24*time.Hour)
	v.SetDefault("geocoder.negative_ttl", 7*24*time.Hour)
	v.SetDefault("geocoder.memory_entries", 10000)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: OPZONES_DATABASE_HOST → database.host
	v.SetEnvPrefix("OPZONES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	if c.Server.RateLimitPerMinute <= 0 {
		errs = append(errs, "server.rate_limit_per_minute must be positive")
	}
	if c.Zones.DatasetURL == "" {
		errs = append(errs, "zones.dataset_url is required")
	}
	if c.Zones.RefreshInterval < 0 {
		errs = append(errs, "zones.refresh_interval must not be negative")
	}
	if c.Zones.FetchTimeout <= 0 {
		errs = append(errs, "zones.fetch_timeout must be positive")
	}
	if c.Zones.SimplifyTolerance < 0 {
		errs = append(errs, "zones.simplify_tolerance must not be negative")
	}
	if c.Index.QueryTimeout <= 0 {
		errs = append(errs, "index.query_timeout must be positive")
	}
	if c.Shapes.DetailZoomThreshold < 1 || c.Shapes.DetailZoomThreshold > 21 {
		errs = append(errs, fmt.Sprintf("shapes.detail_zoom_threshold must be 1-21, got %d", c.Shapes.DetailZoomThreshold))
	}
	if c.Geocoder.BaseURL == "" {
		errs = append(errs, "geocoder.base_url is required")
	}
	if c.Geocoder.RequestsPerSecond <= 0 {
		errs = append(errs, "geocoder.requests_per_second must be positive")
	}
	if c.Geocoder.CacheTTL <= 0 || c.Geocoder.NegativeTTL <= 0 {
		errs = append(errs, "geocoder.cache_ttl and geocoder.negative_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
