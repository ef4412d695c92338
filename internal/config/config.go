// Package config resolves runtime configuration from the environment.
//
// Everything is env-driven (a .env file, if present, is loaded by main
// before Load runs). Credentials follow a precedence chain keyed by the
// configured exchange: sandbox-specific keys beat production-specific keys
// beat generic keys, and the presence of sandbox keys switches the bot into
// sandbox mode on its own.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved process configuration. Secrets must never be
// logged from here; use Redacted() for anything operator-visible.
type Config struct {
	Port      int    // dashboard HTTP/WS port
	Exchange  string // venue id, lower-case (e.g. "binance")
	APIKey    string
	APISecret string
	IsSandbox bool   // trade against the venue's testnet
	Env       string // "development" | "production"
	DataDir   string // where the embedded database lives

	Logging LoggingConfig
}

type LoggingConfig struct {
	Level  string // debug | info | warn | error
	Format string // text | json
}

// Load reads configuration from the environment with sane defaults.
// Missing credentials are not an error here; the engine refuses to trade
// later if they are required and absent.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("port", 3001)
	v.SetDefault("exchange", "binance")
	v.SetDefault("env", "development")
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.AutomaticEnv()

	cfg := &Config{
		Port:      v.GetInt("port"),
		Exchange:  strings.ToLower(strings.TrimSpace(v.GetString("exchange"))),
		IsSandbox: v.GetBool("is_testnet"),
		Env:       v.GetString("env"),
		DataDir:   v.GetString("data_dir"),
		Logging: LoggingConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	// Credential precedence, each field resolved independently:
	// {VENUE}_TESTNET_* > {VENUE}_* > generic. Venue-prefixed keys can't be
	// static viper bindings because the prefix depends on EXCHANGE.
	venue := strings.ToUpper(cfg.Exchange)
	cfg.APIKey = firstNonEmpty(
		os.Getenv(venue+"_TESTNET_API_KEY"),
		os.Getenv(venue+"_API_KEY"),
		os.Getenv("API_KEY"),
	)
	cfg.APISecret = firstNonEmpty(
		os.Getenv(venue+"_TESTNET_SECRET_KEY"),
		os.Getenv(venue+"_API_SECRET"),
		os.Getenv("SECRET_KEY"),
	)

	// Sandbox keys imply sandbox mode even without IS_TESTNET.
	if os.Getenv(venue+"_TESTNET_API_KEY") != "" {
		cfg.IsSandbox = true
	}

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.Exchange == "" {
		return fmt.Errorf("exchange is required (set EXCHANGE)")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required (set DATA_DIR)")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// HasCredentials reports whether both halves of the API credential pair
// were resolved.
func (c *Config) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Redacted returns a copy safe for logging: secrets reduced to their first
// four characters plus a *** marker. Short secrets are masked entirely.
func (c *Config) Redacted() Config {
	out := *c
	out.APIKey = redact(c.APIKey)
	out.APISecret = redact(c.APISecret)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
