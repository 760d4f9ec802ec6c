package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradecore/internal/xerrors"
	"tradecore/pkg/crypto"
	"tradecore/pkg/utils"
)

// Config is the full runtime configuration: infrastructure settings read
// from the environment, and the trading document loaded from YAML.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Execution ExecutionConfig
	Trading   TradingDocument
}

// ExecutionConfig tunes the Order Executor's retry-with-backoff behavior
// (§4.5) and the exchange adapter's per-call timeout and rate limit.
type ExecutionConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	OrderTimeout    time.Duration
	RateLimitPerSec int

	// MaxConsecutiveAPIErrors is the trade loop's own hard stop (§4.9),
	// distinct from the Safe-Mode Controller's failure threshold: this one
	// halts the process entirely rather than just blocking new entries.
	MaxConsecutiveAPIErrors int
}

// ServerConfig controls the bot-command HTTP interface.
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig addresses the durable store.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig holds the master encryption key and the exchange
// credentials it protects. ExchangeAPISecret is stored encrypted at rest
// (AES-256-GCM) and decrypted once at startup into DecryptedAPISecret.
type SecurityConfig struct {
	JWTSecret         string
	EncryptionKey     string
	SessionTimeout    int
	ExchangeAPIKey    string
	ExchangeAPISecret string

	// AllowedChatIDs is the bot-command interface's caller allowlist
	// (§6): each request must present one of these ids, matched with a
	// constant-time comparison. Empty means no caller is allowed.
	AllowedChatIDs []string

	DecryptedAPISecret string `yaml:"-"`
}

// LoggingConfig configures the zap-backed global logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load assembles Config from the environment and the YAML trading
// document, then validates and clamps it. Refuses to start if a
// required key is absent (§7 ConfigInvalid: "Startup refuses").
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradecore"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
			SessionTimeout:    getEnvAsInt("SESSION_TIMEOUT", 3600),
			ExchangeAPIKey:    getEnv("EXCHANGE_API_KEY", ""),
			ExchangeAPISecret: getEnv("EXCHANGE_API_SECRET", ""),
			AllowedChatIDs:    getEnvAsList("BOT_ALLOWED_CHAT_IDS", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Execution: ExecutionConfig{
			MaxRetries:      getEnvAsInt("MAX_RETRIES", 4),
			RetryBackoff:    getEnvAsDuration("RETRY_BACKOFF", 2*time.Second),
			OrderTimeout:    getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			RateLimitPerSec: getEnvAsInt("EXCHANGE_RATE_LIMIT_PER_SEC", 10),
			MaxConsecutiveAPIErrors: getEnvAsInt("MAX_CONSECUTIVE_API_ERRORS", 10),
		},
	}

	if cfg.Security.EncryptionKey == "" {
		return nil, xerrors.NewConfigInvalid("ENCRYPTION_KEY", "required for encrypting exchange credentials")
	}
	if len(cfg.Security.EncryptionKey) != 32 {
		return nil, xerrors.NewConfigInvalid("ENCRYPTION_KEY", "must be exactly 32 bytes for AES-256")
	}

	if cfg.Security.ExchangeAPISecret != "" {
		plain, err := crypto.DecryptWithKeyString(cfg.Security.ExchangeAPISecret, cfg.Security.EncryptionKey)
		if err != nil {
			return nil, xerrors.NewConfigInvalid("EXCHANGE_API_SECRET", "could not decrypt with ENCRYPTION_KEY: "+err.Error())
		}
		cfg.Security.DecryptedAPISecret = plain
	}

	tradingPath := getEnv("TRADING_CONFIG_PATH", "config/trading.yaml")
	doc, err := LoadTradingDocument(tradingPath)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	doc.clampAll()
	cfg.Trading = *doc

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// yamlMarshal/yamlUnmarshal are thin indirections kept so tests can avoid
// touching the filesystem when exercising clamp/validate logic directly.
var (
	yamlMarshal   = yaml.Marshal
	yamlUnmarshal = yaml.Unmarshal
)
