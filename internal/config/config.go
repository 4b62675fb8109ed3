package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// PublicBaseURL is the externally reachable root embedded in QR share
	// links, e.g. https://forms.example.com.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	AuthIssuer  string `mapstructure:"AUTH_ISSUER"`
	UploadDir   string `mapstructure:"UPLOAD_DIR"`
	MigrateDir  string `mapstructure:"MIGRATE_DIR"`
	BodyLimit   string `mapstructure:"BODY_LIMIT"`
	CaptionFont string `mapstructure:"CAPTION_FONT"`

	// Public decode endpoint throttling: requests per window per client IP.
	DecodeRateWindowSecs int `mapstructure:"DECODE_RATE_WINDOW_SECS"`
	DecodeRateLimit      int `mapstructure:"DECODE_RATE_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("MIGRATE_DIR", "migrations")
	v.SetDefault("BODY_LIMIT", "8MB")
	v.SetDefault("DECODE_RATE_WINDOW_SECS", 60)
	v.SetDefault("DECODE_RATE_LIMIT", 90)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PUBLIC_BASE_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("UPLOAD_DIR")
	v.BindEnv("MIGRATE_DIR")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("CAPTION_FONT")
	v.BindEnv("DECODE_RATE_WINDOW_SECS")
	v.BindEnv("DECODE_RATE_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active: all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret is mandatory so admin and export endpoints stay protected.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when ENV is not development; " +
			"refusing to start with unauthenticated admin endpoints")
	}
	if c.DecodeRateWindowSecs <= 0 {
		return fmt.Errorf("DECODE_RATE_WINDOW_SECS must be positive, got %d", c.DecodeRateWindowSecs)
	}
	if c.DecodeRateLimit <= 0 {
		return fmt.Errorf("DECODE_RATE_LIMIT must be positive, got %d", c.DecodeRateLimit)
	}
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.PublicBaseURL)
	}
	return nil
}
