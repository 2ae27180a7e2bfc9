package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	BackendFile     = "file"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

type Config struct {
	API        APIConfig
	Redirect   RedirectConfig
	GeoIP      GeoIPConfig
	Tracking   TrackingConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Monitoring MonitoringConfig
	Discord    DiscordConfig
}

type APIConfig struct {
	Port        string
	Host        string
	Environment string
}

func (a APIConfig) Address() string {
	return a.Host + ":" + a.Port
}

type RedirectConfig struct {
	DefaultServer     string
	HoneypotServer    string
	HoneypotCountries []string
	// TestFlag treats every second request as coming from a honeypot country.
	TestFlag bool
}

type GeoIPConfig struct {
	CountryURL          string
	CountryCachePath    string
	CountryFallbackPath string
	CountryTimeout      time.Duration

	VPNURL          string
	VPNCachePath    string
	VPNFallbackPath string
	VPNTimeout      time.Duration

	RefreshInterval time.Duration
}

type TrackingConfig struct {
	Backend   string
	FilePath  string
	BadgerDir string
}

type DatabaseConfig struct {
	URL          string
	MaxConns     int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	// DB < 0 keeps the database selected by URL.
	DB       int
	CacheTTL time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type SecurityConfig struct {
	CORSOrigins    []string
	TrustedProxies []string
}

type MonitoringConfig struct {
	EnableMetrics bool
	LogLevel      string
	LogFormat     string
}

type DiscordConfig struct {
	WebhookURL string
	Logging    bool
}

// Enabled reports whether visits should be posted to the webhook.
func (d DiscordConfig) Enabled() bool {
	return d.Logging && d.WebhookURL != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			Port:        getEnv("API_PORT", getEnv("APP_PORT", "8095")),
			Host:        getEnv("API_HOST", "0.0.0.0"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Redirect: RedirectConfig{
			DefaultServer:     getEnv("DEFAULT_SERVER", ""),
			HoneypotServer:    getEnv("HONEYPOT_SERVER", ""),
			HoneypotCountries: upper(getEnvSlice("HONEYPOT_COUNTRIES", []string{"PK", "IN"})),
			TestFlag:          getEnvBool("TEST_FLAG", false),
		},
		GeoIP: GeoIPConfig{
			CountryURL:          getEnv("IP_DB_URL", "https://raw.githubusercontent.com/sapics/ip-location-db/main/db/country/ip-country.csv"),
			CountryCachePath:    getEnv("IP_DB_PATH", "data/ip-country.csv"),
			CountryFallbackPath: getEnv("IP_DB_FALLBACK_PATH", ""),
			CountryTimeout:      getEnvDuration("IP_DB_HTTP_TIMEOUT", 15*time.Second),
			VPNURL:              getEnv("VPN_LIST_URL", "https://raw.githubusercontent.com/X4BNet/lists_vpn/main/ipv4.txt"),
			VPNCachePath:        getEnv("VPN_LIST_PATH", "data/vpn-ipv4.txt"),
			VPNFallbackPath:     getEnv("VPN_LIST_FALLBACK_PATH", "ipv4.txt"),
			VPNTimeout:          getEnvDuration("VPN_LIST_HTTP_TIMEOUT", 10*time.Second),
			RefreshInterval:     getEnvDuration("IP_DB_REFRESH_INTERVAL", 7*24*time.Hour),
		},
		Tracking: TrackingConfig{
			Backend:   strings.ToLower(getEnv("DEVICE_STORE_BACKEND", BackendFile)),
			FilePath:  getEnv("DEVICE_HISTORY_FILE", "device_history.json"),
			BadgerDir: getEnv("BADGER_DIR", "data/badger"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			MaxConns:     getEnvInt("DB_MAX_CONNS", 10),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 2),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", -1),
			CacheTTL: getEnvDuration("REDIS_CACHE_TTL", 48*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Security: SecurityConfig{
			CORSOrigins:    getEnvSlice("CORS_ORIGINS", []string{"*"}),
			TrustedProxies: getEnvSlice("TRUSTED_PROXIES", []string{}),
		},
		Monitoring: MonitoringConfig{
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			LogFormat:     getEnv("LOG_FORMAT", "json"),
		},
		Discord: DiscordConfig{
			WebhookURL: getEnv("DC_WEBHOOK_URL", ""),
			Logging:    getEnvBool("DC_LOGGING", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.API.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("API_PORT must be a port number, got %q", c.API.Port)
	}
	for _, cc := range c.Redirect.HoneypotCountries {
		if len(cc) != 2 {
			return fmt.Errorf("HONEYPOT_COUNTRIES entries must be two-letter codes, got %q", cc)
		}
	}
	if c.GeoIP.RefreshInterval <= 0 {
		return fmt.Errorf("IP_DB_REFRESH_INTERVAL must be positive")
	}
	if !slices.Contains([]string{BackendFile, BackendBadger, BackendPostgres}, c.Tracking.Backend) {
		return fmt.Errorf("DEVICE_STORE_BACKEND must be one of file, badger, postgres; got %q", c.Tracking.Backend)
	}
	if c.Tracking.Backend == BackendPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when REDIS_ENABLED is set")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	switch c.Monitoring.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Monitoring.LogFormat)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				result = append(result, item)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func upper(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToUpper(s)
	}
	return out
}
