package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMinio    = "minio"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	BackendURL      string        `mapstructure:"BACKEND_URL"`
	GenerateTimeout time.Duration `mapstructure:"GENERATE_TIMEOUT"`
	HealthTimeout   time.Duration `mapstructure:"HEALTH_TIMEOUT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	StateStore  string        `mapstructure:"STATE_STORE"`
	StateTTL    time.Duration `mapstructure:"STATE_TTL"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string        `mapstructure:"REDIS_URL"`

	BlobStore      string `mapstructure:"BLOB_STORE"`
	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	AMQPURL           string `mapstructure:"AMQP_URL"`
	AMQPExchange      string `mapstructure:"AMQP_EXCHANGE"`
	AMQPSigningSecret string `mapstructure:"AMQP_SIGNING_SECRET"`

	PDFFontPath string `mapstructure:"PDF_FONT_PATH"`
	PDFLocale   string `mapstructure:"PDF_LOCALE"`

	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit          string   `mapstructure:"BODY_LIMIT"`
	SignatureBodyLimit string   `mapstructure:"SIGNATURE_BODY_LIMIT"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV",
	"BACKEND_URL", "GENERATE_TIMEOUT", "HEALTH_TIMEOUT", "REQUEST_TIMEOUT",
	"STATE_STORE", "STATE_TTL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"BLOB_STORE", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"AMQP_URL", "AMQP_EXCHANGE", "AMQP_SIGNING_SECRET",
	"PDF_FONT_PATH", "PDF_LOCALE",
	"CORS_ORIGINS", "BODY_LIMIT", "SIGNATURE_BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads ./.env (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads the given env file (if present) and the environment.
// Environment variables win over the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BACKEND_URL", "http://localhost:8080")
	v.SetDefault("GENERATE_TIMEOUT", "3m")
	v.SetDefault("HEALTH_TIMEOUT", "10s")
	v.SetDefault("REQUEST_TIMEOUT", "4m")
	v.SetDefault("STATE_STORE", StoreMemory)
	v.SetDefault("STATE_TTL", "24h")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("BLOB_STORE", StoreMemory)
	v.SetDefault("MINIO_BUCKET", "surgiform-consents")
	v.SetDefault("AMQP_EXCHANGE", "surgiform.events")
	v.SetDefault("PDF_LOCALE", "ko")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("SIGNATURE_BODY_LIMIT", "8M")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading the env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := cfg.CORSOrigins
	cfg.CORSOrigins = nil
	for _, o := range origins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, part)
			}
		}
	}

	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	cfg.StateStore = strings.ToLower(strings.TrimSpace(cfg.StateStore))
	cfg.BlobStore = strings.ToLower(strings.TrimSpace(cfg.BlobStore))
	cfg.PDFLocale = strings.ToLower(strings.TrimSpace(cfg.PDFLocale))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EventsEnabled reports whether a broker is configured.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// Validate checks that the selected backends have what they need and that
// the timeouts nest: the request deadline must outlast a generation call.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}

	if c.GenerateTimeout <= 0 || c.HealthTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("GENERATE_TIMEOUT, HEALTH_TIMEOUT and REQUEST_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= c.GenerateTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must be longer than GENERATE_TIMEOUT (%s)", c.RequestTimeout, c.GenerateTimeout)
	}

	switch c.StateStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STATE_STORE is %q", StorePostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STATE_STORE is %q", StoreRedis)
		}
	default:
		return fmt.Errorf("STATE_STORE must be %q, %q or %q, got %q", StoreMemory, StorePostgres, StoreRedis, c.StateStore)
	}
	if c.StateTTL < 0 {
		return fmt.Errorf("STATE_TTL must not be negative")
	}

	switch c.BlobStore {
	case StoreMemory:
	case StoreMinio:
		if c.MinioEndpoint == "" || c.MinioAccessKey == "" || c.MinioSecretKey == "" || c.MinioBucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET are required when BLOB_STORE is %q", StoreMinio)
		}
	default:
		return fmt.Errorf("BLOB_STORE must be %q or %q, got %q", StoreMemory, StoreMinio, c.BlobStore)
	}

	if c.EventsEnabled() && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP_EXCHANGE is required when AMQP_URL is set")
	}

	if c.PDFLocale != "ko" && c.PDFLocale != "en" {
		return fmt.Errorf("PDF_LOCALE must be \"ko\" or \"en\", got %q", c.PDFLocale)
	}
	// The built-in Go fonts have no Hangul glyphs.
	if c.PDFLocale == "ko" && c.PDFFontPath == "" {
		return fmt.Errorf("PDF_FONT_PATH must name a Hangul-capable TrueType font when PDF_LOCALE is \"ko\"")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
