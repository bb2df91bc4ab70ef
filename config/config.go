package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DerivConfig          DerivConfig          `json:"deriv"`
	EngineConfig         EngineConfig         `json:"engine"`
	SentinelConfig       SentinelConfig       `json:"sentinel"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
	DatabaseConfig       DatabaseConfig       `json:"database"`
	RedisConfig          RedisConfig          `json:"redis"`
	VaultConfig          VaultConfig          `json:"vault"`
	LoggingConfig        LoggingConfig        `json:"logging"`
	MetricsConfig        MetricsConfig        `json:"metrics"`
}

// DerivConfig holds the brokerage WebSocket connection settings
type DerivConfig struct {
	AppID                string        `json:"app_id"`
	Endpoint             string        `json:"endpoint"`
	DefaultToken         string        `json:"default_token"` // fallback when a user has no token configured
	HeartbeatInterval    time.Duration `json:"heartbeat_interval"`
	RequestTimeout       time.Duration `json:"request_timeout"`
	CandleTimeout        time.Duration `json:"candle_timeout"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `json:"reconnect_max_delay"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	FramesPerSecond      float64       `json:"frames_per_second"` // outbound rate limit
}

// EngineConfig holds defaults applied to sessions whose stored config omits a value
type EngineConfig struct {
	DefaultCycleInterval  time.Duration `json:"default_cycle_interval"`
	DefaultCandleCount    int           `json:"default_candle_count"`
	DefaultAmountPerTrade float64       `json:"default_amount_per_trade"`
	InterSymbolDelay      time.Duration `json:"inter_symbol_delay"`
	OpenTradeMaxAge       time.Duration `json:"open_trade_max_age"`
	SyncCooldown          time.Duration `json:"sync_cooldown"`
	AnalyticsCacheTTL     time.Duration `json:"analytics_cache_ttl"`
}

// SentinelConfig holds the AI confidence filter settings
type SentinelConfig struct {
	ServiceURL     string        `json:"service_url"`
	Timeout        time.Duration `json:"timeout"`
	MinConfidence  float64       `json:"min_confidence"`  // 0-100
	FallbackFactor float64       `json:"fallback_factor"` // stake multiplier when the service is down
}

// CircuitBreakerConfig holds the risk halt thresholds.
// MaxHourlyLossPercent and FallbackBalance are policy knobs, not hard requirements.
type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxHourlyLossPercent float64 `json:"max_hourly_loss_percent"`
	FallbackBalance      float64 `json:"fallback_balance"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Load reads configuration from an optional JSON file and the environment.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	applyEnv(cfg)

	if cfg.DerivConfig.AppID == "" {
		return nil, fmt.Errorf("deriv app id is required (DERIV_APP_ID)")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DerivConfig: DerivConfig{
			AppID:                "1089",
			Endpoint:             "wss://ws.derivws.com/websockets/v3",
			HeartbeatInterval:    15 * time.Second,
			RequestTimeout:       10 * time.Second,
			CandleTimeout:        15 * time.Second,
			ReconnectBaseDelay:   5 * time.Second,
			ReconnectMaxDelay:    20 * time.Second,
			MaxReconnectAttempts: 10,
			FramesPerSecond:      5,
		},
		EngineConfig: EngineConfig{
			DefaultCycleInterval:  30 * time.Second,
			DefaultCandleCount:    100,
			DefaultAmountPerTrade: 10,
			InterSymbolDelay:      2 * time.Second,
			OpenTradeMaxAge:       time.Hour,
			SyncCooldown:          60 * time.Second,
			AnalyticsCacheTTL:     30 * time.Second,
		},
		SentinelConfig: SentinelConfig{
			ServiceURL:     "http://localhost:8000",
			Timeout:        500 * time.Millisecond,
			MinConfidence:  85,
			FallbackFactor: 0.5,
		},
		CircuitBreakerConfig: CircuitBreakerConfig{
			Enabled:              true,
			MaxHourlyLossPercent: 1.5,
			FallbackBalance:      10000,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "deriv_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "deriv-bot/api-tokens",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		MetricsConfig: MetricsConfig{
			Enabled: true,
			Addr:    ":9109",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.DerivConfig.AppID = getEnvOrDefault("DERIV_APP_ID", cfg.DerivConfig.AppID)
	cfg.DerivConfig.Endpoint = getEnvOrDefault("DERIV_ENDPOINT", cfg.DerivConfig.Endpoint)
	cfg.DerivConfig.DefaultToken = getEnvOrDefault("DERIV_API_TOKEN", cfg.DerivConfig.DefaultToken)
	cfg.DerivConfig.HeartbeatInterval = getEnvDurationOrDefault("DERIV_HEARTBEAT_INTERVAL", cfg.DerivConfig.HeartbeatInterval)
	cfg.DerivConfig.RequestTimeout = getEnvDurationOrDefault("DERIV_REQUEST_TIMEOUT", cfg.DerivConfig.RequestTimeout)
	cfg.DerivConfig.CandleTimeout = getEnvDurationOrDefault("DERIV_CANDLE_TIMEOUT", cfg.DerivConfig.CandleTimeout)
	cfg.DerivConfig.ReconnectBaseDelay = getEnvDurationOrDefault("DERIV_RECONNECT_BASE_DELAY", cfg.DerivConfig.ReconnectBaseDelay)
	cfg.DerivConfig.ReconnectMaxDelay = getEnvDurationOrDefault("DERIV_RECONNECT_MAX_DELAY", cfg.DerivConfig.ReconnectMaxDelay)
	cfg.DerivConfig.MaxReconnectAttempts = getEnvIntOrDefault("DERIV_MAX_RECONNECT_ATTEMPTS", cfg.DerivConfig.MaxReconnectAttempts)
	cfg.DerivConfig.FramesPerSecond = getEnvFloatOrDefault("DERIV_FRAMES_PER_SECOND", cfg.DerivConfig.FramesPerSecond)

	cfg.EngineConfig.DefaultCycleInterval = getEnvDurationOrDefault("ENGINE_DEFAULT_CYCLE_INTERVAL", cfg.EngineConfig.DefaultCycleInterval)
	cfg.EngineConfig.DefaultCandleCount = getEnvIntOrDefault("ENGINE_DEFAULT_CANDLE_COUNT", cfg.EngineConfig.DefaultCandleCount)
	cfg.EngineConfig.DefaultAmountPerTrade = getEnvFloatOrDefault("ENGINE_DEFAULT_AMOUNT_PER_TRADE", cfg.EngineConfig.DefaultAmountPerTrade)
	cfg.EngineConfig.InterSymbolDelay = getEnvDurationOrDefault("ENGINE_INTER_SYMBOL_DELAY", cfg.EngineConfig.InterSymbolDelay)
	cfg.EngineConfig.OpenTradeMaxAge = getEnvDurationOrDefault("ENGINE_OPEN_TRADE_MAX_AGE", cfg.EngineConfig.OpenTradeMaxAge)
	cfg.EngineConfig.SyncCooldown = getEnvDurationOrDefault("ENGINE_SYNC_COOLDOWN", cfg.EngineConfig.SyncCooldown)
	cfg.EngineConfig.AnalyticsCacheTTL = getEnvDurationOrDefault("ENGINE_ANALYTICS_CACHE_TTL", cfg.EngineConfig.AnalyticsCacheTTL)

	cfg.SentinelConfig.ServiceURL = getEnvOrDefault("AI_SERVICE_URL", cfg.SentinelConfig.ServiceURL)
	cfg.SentinelConfig.Timeout = getEnvDurationOrDefault("AI_SERVICE_TIMEOUT", cfg.SentinelConfig.Timeout)
	cfg.SentinelConfig.MinConfidence = getEnvFloatOrDefault("AI_MIN_CONFIDENCE", cfg.SentinelConfig.MinConfidence)
	cfg.SentinelConfig.FallbackFactor = getEnvFloatOrDefault("AI_FALLBACK_FACTOR", cfg.SentinelConfig.FallbackFactor)

	cfg.CircuitBreakerConfig.Enabled = getEnvOrDefault("CIRCUIT_BREAKER_ENABLED", "true") == "true"
	cfg.CircuitBreakerConfig.MaxHourlyLossPercent = getEnvFloatOrDefault("CIRCUIT_MAX_HOURLY_LOSS_PERCENT", cfg.CircuitBreakerConfig.MaxHourlyLossPercent)
	cfg.CircuitBreakerConfig.FallbackBalance = getEnvFloatOrDefault("CIRCUIT_FALLBACK_BALANCE", cfg.CircuitBreakerConfig.FallbackBalance)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.MetricsConfig.Enabled = getEnvOrDefault("METRICS_ENABLED", "true") == "true"
	cfg.MetricsConfig.Addr = getEnvOrDefault("METRICS_ADDR", cfg.MetricsConfig.Addr)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaultConfig()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
