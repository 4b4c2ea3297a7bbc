// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// API rate limiting
	RateLimitRPM int

	// Risk scoring
	DenyThreshold  float64 // composite score at or above which a transaction is denied
	AlertThreshold float64 // composite score at or above which an alert is opened
	AmountWeight   float64
	VelocityWeight float64
	ProfileWeight  float64

	// Velocity window
	VelocityWindow time.Duration // rolling window for per-user transaction counting
	VelocityCap    int           // transactions per window beyond which the engine denies

	// Risk profiles
	DecayWindow      time.Duration // factors older than this are excluded from the active score
	DecayHalfLife    time.Duration // half-life for factor age weighting
	BandLow          float64       // score below this is "low"
	BandMedium       float64       // score below this is "medium"
	BandHigh         float64       // score below this is "high", at or above is "critical"
	DownweightRatio  float64       // multiplier applied to a factor on false_positive resolution
	FraudFactorScore float64       // factor weight applied on confirmed_fraud resolution

	// Policy engine
	PolicyDefaultAction string // "allow" or "deny" when no rule matches

	// Threat detection
	VolumetricThreshold float64 // evidence count above which severity escalates one band
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultRateLimit      = 300
	DefaultDenyThreshold  = 75.0
	DefaultAlertThreshold = 60.0
	DefaultVelocityCap    = 15
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:    getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:  os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM: int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),

		DenyThreshold:  getEnvFloat("RISK_DENY_THRESHOLD", DefaultDenyThreshold),
		AlertThreshold: getEnvFloat("RISK_ALERT_THRESHOLD", DefaultAlertThreshold),
		AmountWeight:   getEnvFloat("RISK_AMOUNT_WEIGHT", 0.40),
		VelocityWeight: getEnvFloat("RISK_VELOCITY_WEIGHT", 0.35),
		ProfileWeight:  getEnvFloat("RISK_PROFILE_WEIGHT", 0.25),

		VelocityWindow: getEnvDuration("VELOCITY_WINDOW", time.Minute),
		VelocityCap:    int(getEnvInt64("VELOCITY_CAP", DefaultVelocityCap)),

		DecayWindow:      getEnvDuration("FACTOR_DECAY_WINDOW", 30*24*time.Hour),
		DecayHalfLife:    getEnvDuration("FACTOR_DECAY_HALF_LIFE", 7*24*time.Hour),
		BandLow:          getEnvFloat("RISK_BAND_LOW", 25),
		BandMedium:       getEnvFloat("RISK_BAND_MEDIUM", 50),
		BandHigh:         getEnvFloat("RISK_BAND_HIGH", 75),
		DownweightRatio:  getEnvFloat("FALSE_POSITIVE_DOWNWEIGHT", 0.25),
		FraudFactorScore: getEnvFloat("CONFIRMED_FRAUD_FACTOR", 40),

		PolicyDefaultAction: getEnv("POLICY_DEFAULT_ACTION", "deny"),

		VolumetricThreshold: getEnvFloat("THREAT_VOLUMETRIC_THRESHOLD", 1000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are coherent
func (c *Config) Validate() error {
	if c.DenyThreshold <= 0 || c.DenyThreshold > 100 {
		return fmt.Errorf("RISK_DENY_THRESHOLD must be in (0, 100]")
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 100 {
		return fmt.Errorf("RISK_ALERT_THRESHOLD must be in (0, 100]")
	}
	if c.AlertThreshold > c.DenyThreshold {
		return fmt.Errorf("RISK_ALERT_THRESHOLD must not exceed RISK_DENY_THRESHOLD")
	}
	if c.VelocityCap <= 0 {
		return fmt.Errorf("VELOCITY_CAP must be positive")
	}
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("VELOCITY_WINDOW must be positive")
	}
	if !(c.BandLow < c.BandMedium && c.BandMedium < c.BandHigh) {
		return fmt.Errorf("risk bands must satisfy RISK_BAND_LOW < RISK_BAND_MEDIUM < RISK_BAND_HIGH")
	}
	if c.BandHigh > 100 {
		return fmt.Errorf("RISK_BAND_HIGH must not exceed 100")
	}
	if c.DownweightRatio < 0 || c.DownweightRatio >= 1 {
		return fmt.Errorf("FALSE_POSITIVE_DOWNWEIGHT must be in [0, 1)")
	}
	switch c.PolicyDefaultAction {
	case "allow", "deny":
	default:
		return fmt.Errorf("POLICY_DEFAULT_ACTION must be 'allow' or 'deny'")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
