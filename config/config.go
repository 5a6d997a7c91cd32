package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig     ServerConfig     `json:"server"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	VaultConfig      VaultConfig      `json:"vault"`
	AIConfig         AIConfig         `json:"ai"`
	ProvidersConfig  ProvidersConfig  `json:"providers"`
	CacheConfig      CacheConfig      `json:"cache"`
	RateLimitConfig  RateLimitConfig  `json:"rate_limit"`
	DebounceConfig   DebounceConfig   `json:"debounce"`
	AutomationConfig AutomationConfig `json:"automation"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // Comma separated CORS origins
	ProductionMode  bool   `json:"production_mode"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the audit stream
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	Stream    string `json:"stream"`     // Stream key for audit events
	StreamMax int64  `json:"stream_max"` // Approximate max stream length
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for provider keys
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// AIConfig holds generative analysis configuration
type AIConfig struct {
	Enabled        bool          `json:"enabled"`
	LLMProvider    string        `json:"llm_provider"` // "claude", "openai", or "deepseek"
	ClaudeAPIKey   string        `json:"claude_api_key"`
	OpenAIAPIKey   string        `json:"openai_api_key"`
	DeepSeekAPIKey string        `json:"deepseek_api_key"`
	LLMModel       string        `json:"llm_model"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	Timeout        time.Duration `json:"timeout"`
}

// ProviderConfig holds settings for one upstream market data source
type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url"`
	MaxPerMinute int    `json:"max_per_minute"`
}

// ProvidersConfig holds all upstream market data sources
type ProvidersConfig struct {
	AlphaVantage ProviderConfig `json:"alphavantage"`
	CoinGecko    ProviderConfig `json:"coingecko"`
	Polygon      ProviderConfig `json:"polygon"`
	Scrape       ProviderConfig `json:"scrape"`
	HTTPTimeout  time.Duration  `json:"http_timeout"`
}

// CacheConfig holds TTL overrides (minutes) per retention class
type CacheConfig struct {
	IntradayMinutes   int `json:"intraday_minutes"`
	DailyMinutes      int `json:"daily_minutes"`
	HistoricalMinutes int `json:"historical_minutes"`
	NewsMinutes       int `json:"news_minutes"`
	AnalysisMinutes   int `json:"analysis_minutes"`
	SearchMinutes     int `json:"search_minutes"`
	ExtendedMinutes   int `json:"extended_minutes"`
}

// RateLimitConfig holds per-source window and backoff settings
type RateLimitConfig struct {
	Window      time.Duration `json:"window"`
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap"`
}

// DebounceConfig holds debounce delays for bursty caller operations
type DebounceConfig struct {
	SearchDelay time.Duration `json:"search_delay"`
}

// AutomationConfig holds defaults applied to users without stored settings
type AutomationConfig struct {
	Enabled           bool    `json:"enabled"`
	BuyThreshold      float64 `json:"buy_threshold"`  // Minimum confidence (0-100) for BUY signals
	SellThreshold     float64 `json:"sell_threshold"` // Minimum confidence (0-100) for SELL signals
	MaxTradesPerDay   int     `json:"max_trades_per_day"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	TradeAmount       float64 `json:"trade_amount"` // Quote currency per automated trade
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := loadFromFile(getEnvOrDefault("CONFIG_FILE", "config.json"))
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", orInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orInt(cfg.ServerConfig.WriteTimeout, 60))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orString(cfg.DatabaseConfig.User, "market_signal"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orString(cfg.DatabaseConfig.Database, "market_signal"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", orString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.Stream = getEnvOrDefault("REDIS_AUDIT_STREAM", orString(cfg.RedisConfig.Stream, "market:audit"))
	if cfg.RedisConfig.StreamMax <= 0 {
		cfg.RedisConfig.StreamMax = 10000
	}

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orString(cfg.VaultConfig.SecretPath, "market-signal/providers"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// AI config
	cfg.AIConfig.Enabled = getEnvOrDefault("AI_ENABLED", "true") == "true"
	cfg.AIConfig.LLMProvider = getEnvOrDefault("AI_LLM_PROVIDER", orString(cfg.AIConfig.LLMProvider, "claude"))
	cfg.AIConfig.ClaudeAPIKey = getEnvOrDefault("AI_CLAUDE_API_KEY", cfg.AIConfig.ClaudeAPIKey)
	cfg.AIConfig.OpenAIAPIKey = getEnvOrDefault("AI_OPENAI_API_KEY", cfg.AIConfig.OpenAIAPIKey)
	cfg.AIConfig.DeepSeekAPIKey = getEnvOrDefault("AI_DEEPSEEK_API_KEY", cfg.AIConfig.DeepSeekAPIKey)
	cfg.AIConfig.LLMModel = getEnvOrDefault("AI_LLM_MODEL", orString(cfg.AIConfig.LLMModel, "claude-3-haiku-20240307"))
	cfg.AIConfig.MaxTokens = getEnvIntOrDefault("AI_MAX_TOKENS", orInt(cfg.AIConfig.MaxTokens, 1024))
	cfg.AIConfig.Temperature = getEnvFloatOrDefault("AI_TEMPERATURE", orFloat(cfg.AIConfig.Temperature, 0.3))
	cfg.AIConfig.Timeout = getEnvDurationOrDefault("AI_TIMEOUT", orDuration(cfg.AIConfig.Timeout, 60*time.Second))

	// Providers config
	p := &cfg.ProvidersConfig
	p.HTTPTimeout = getEnvDurationOrDefault("PROVIDER_HTTP_TIMEOUT", orDuration(p.HTTPTimeout, 10*time.Second))

	p.AlphaVantage.Enabled = getEnvOrDefault("ALPHAVANTAGE_ENABLED", "true") == "true"
	p.AlphaVantage.APIKey = getEnvOrDefault("ALPHAVANTAGE_API_KEY", p.AlphaVantage.APIKey)
	p.AlphaVantage.BaseURL = getEnvOrDefault("ALPHAVANTAGE_BASE_URL", orString(p.AlphaVantage.BaseURL, "https://www.alphavantage.co"))
	p.AlphaVantage.MaxPerMinute = getEnvIntOrDefault("ALPHAVANTAGE_MAX_PER_MINUTE", orInt(p.AlphaVantage.MaxPerMinute, 5))

	p.CoinGecko.Enabled = getEnvOrDefault("COINGECKO_ENABLED", "true") == "true"
	p.CoinGecko.APIKey = getEnvOrDefault("COINGECKO_API_KEY", p.CoinGecko.APIKey)
	p.CoinGecko.BaseURL = getEnvOrDefault("COINGECKO_BASE_URL", orString(p.CoinGecko.BaseURL, "https://api.coingecko.com/api/v3"))
	p.CoinGecko.MaxPerMinute = getEnvIntOrDefault("COINGECKO_MAX_PER_MINUTE", orInt(p.CoinGecko.MaxPerMinute, 30))

	p.Polygon.APIKey = getEnvOrDefault("POLYGON_API_KEY", p.Polygon.APIKey)
	p.Polygon.Enabled = p.Polygon.APIKey != "" && getEnvOrDefault("POLYGON_ENABLED", "true") == "true"
	p.Polygon.MaxPerMinute = getEnvIntOrDefault("POLYGON_MAX_PER_MINUTE", orInt(p.Polygon.MaxPerMinute, 5))

	p.Scrape.Enabled = getEnvOrDefault("SCRAPE_ENABLED", "true") == "true"
	p.Scrape.BaseURL = getEnvOrDefault("SCRAPE_BASE_URL", orString(p.Scrape.BaseURL, "https://finance.yahoo.com"))
	p.Scrape.MaxPerMinute = getEnvIntOrDefault("SCRAPE_MAX_PER_MINUTE", orInt(p.Scrape.MaxPerMinute, 10))

	// Cache TTLs (minutes)
	c := &cfg.CacheConfig
	c.IntradayMinutes = getEnvIntOrDefault("CACHE_INTRADAY_MINUTES", orInt(c.IntradayMinutes, 3))
	c.DailyMinutes = getEnvIntOrDefault("CACHE_DAILY_MINUTES", orInt(c.DailyMinutes, 10))
	c.HistoricalMinutes = getEnvIntOrDefault("CACHE_HISTORICAL_MINUTES", orInt(c.HistoricalMinutes, 45))
	c.NewsMinutes = getEnvIntOrDefault("CACHE_NEWS_MINUTES", orInt(c.NewsMinutes, 8))
	c.AnalysisMinutes = getEnvIntOrDefault("CACHE_ANALYSIS_MINUTES", orInt(c.AnalysisMinutes, 20))
	c.SearchMinutes = getEnvIntOrDefault("CACHE_SEARCH_MINUTES", orInt(c.SearchMinutes, 5))
	c.ExtendedMinutes = getEnvIntOrDefault("CACHE_EXTENDED_MINUTES", orInt(c.ExtendedMinutes, 120))

	// Rate limiting
	cfg.RateLimitConfig.Window = getEnvDurationOrDefault("RATE_LIMIT_WINDOW", orDuration(cfg.RateLimitConfig.Window, time.Minute))
	cfg.RateLimitConfig.BackoffBase = getEnvDurationOrDefault("RATE_LIMIT_BACKOFF_BASE", orDuration(cfg.RateLimitConfig.BackoffBase, 30*time.Second))
	cfg.RateLimitConfig.BackoffCap = getEnvDurationOrDefault("RATE_LIMIT_BACKOFF_CAP", orDuration(cfg.RateLimitConfig.BackoffCap, 5*time.Minute))

	// Debounce
	cfg.DebounceConfig.SearchDelay = getEnvDurationOrDefault("DEBOUNCE_SEARCH_DELAY", orDuration(cfg.DebounceConfig.SearchDelay, 300*time.Millisecond))

	// Automation defaults
	a := &cfg.AutomationConfig
	a.Enabled = getEnvOrDefault("AUTOMATION_ENABLED", "false") == "true"
	a.BuyThreshold = getEnvFloatOrDefault("AUTOMATION_BUY_THRESHOLD", orFloat(a.BuyThreshold, 75))
	a.SellThreshold = getEnvFloatOrDefault("AUTOMATION_SELL_THRESHOLD", orFloat(a.SellThreshold, 75))
	a.MaxTradesPerDay = getEnvIntOrDefault("AUTOMATION_MAX_TRADES_PER_DAY", orInt(a.MaxTradesPerDay, 5))
	a.StopLossPercent = getEnvFloatOrDefault("AUTOMATION_STOP_LOSS_PERCENT", orFloat(a.StopLossPercent, 5))
	a.TakeProfitPercent = getEnvFloatOrDefault("AUTOMATION_TAKE_PROFIT_PERCENT", orFloat(a.TakeProfitPercent, 10))
	a.TradeAmount = getEnvFloatOrDefault("AUTOMATION_TRADE_AMOUNT", orFloat(a.TradeAmount, 100))
}

// DSN returns the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// ActiveLLMKey returns the API key for the configured LLM provider
func (a AIConfig) ActiveLLMKey() string {
	switch a.LLMProvider {
	case "openai":
		return a.OpenAIAPIKey
	case "deepseek":
		return a.DeepSeekAPIKey
	default:
		return a.ClaudeAPIKey
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
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

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
