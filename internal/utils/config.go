package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	HistoryBackendMemory   = "memory"
	HistoryBackendMongo    = "mongo"
	HistoryBackendPostgres = "postgres"
	HistoryBackendSQLite   = "sqlite"

	GatewayProviderGemini = "gemini"
	GatewayProviderOpenAI = "openai"

	EventsBackendNone      = "none"
	EventsBackendGoChannel = "gochannel"
	EventsBackendRedis     = "redis"
)

type Config struct {
	ServerPort      string
	JWTSecret       string
	JWTTTL          time.Duration
	CORSAllowOrigin string
	Postgres        PostgresConfig
	Mongo           MongoConfig
	SQLite          SQLiteConfig
	Redis           RedisConfig
	Logging         LoggingConfig
	History         HistoryConfig
	Gateway         GatewayConfig
	Relay           RelayConfig
	Events          EventsConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type SQLiteConfig struct {
	Path string
}

// RedisConfig is optional; an empty Addr disables every Redis-backed feature.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

type HistoryConfig struct {
	Backend  string
	Window   int
	MaxTurns int
}

type GatewayConfig struct {
	Provider              string
	GeminiAPIKey          string
	GeminiModel           string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string
	SystemInstruction     string
	SystemInstructionFile string
}

type RelayConfig struct {
	ExchangeTimeout time.Duration
	PersistTimeout  time.Duration
}

type EventsConfig struct {
	Backend       string
	Topic         string
	ConsumerGroup string
}

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5433"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "mindful-ai-server"),
	}

	cfg := &Config{
		ServerPort:      port,
		JWTSecret:       jwtSecret,
		JWTTTL:          parseDuration(envOrDefault("JWT_TTL", "720h"), 30*24*time.Hour),
		CORSAllowOrigin: envOrDefault("CORS_ALLOW_ORIGIN", "*"),
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "postgres"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            envOrDefault("MONGODB_URI", envOrDefault("MONGO_URI", "mongodb://localhost:27017")),
			Database:       envOrDefault("MONGO_DATABASE", "mindful"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		SQLite: SQLiteConfig{
			Path: envOrDefault("SQLITE_PATH", "data/history.db"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseInt(envOrDefault("REDIS_DB", "0"), 0),
			LockTTL:  parseDuration(envOrDefault("REDIS_LOCK_TTL", "15s"), 15*time.Second),
		},
		Logging: logging,
		History: HistoryConfig{
			Backend:  strings.ToLower(envOrDefault("HISTORY_BACKEND", HistoryBackendMongo)),
			Window:   parseInt(envOrDefault("HISTORY_WINDOW", "20"), 20),
			MaxTurns: parseInt(envOrDefault("HISTORY_MAX_TURNS", "0"), 0),
		},
		Gateway: GatewayConfig{
			Provider:              strings.ToLower(envOrDefault("GATEWAY_PROVIDER", GatewayProviderGemini)),
			GeminiAPIKey:          os.Getenv("GENAI_API_KEY"),
			GeminiModel:           envOrDefault("GEN_AI_MODEL", "gemini-1.5-flash"),
			OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:         strings.TrimRight(envOrDefault("OPENAI_BASE_URL", "https://openai.qiniu.com/v1"), "/"),
			OpenAIModel:           envOrDefault("OPENAI_MODEL", "deepseek-v3"),
			SystemInstruction:     os.Getenv("SYSTEM_INSTRUCTION"),
			SystemInstructionFile: os.Getenv("SYSTEM_INSTRUCTION_FILE"),
		},
		Relay: RelayConfig{
			ExchangeTimeout: parseDuration(envOrDefault("EXCHANGE_TIMEOUT", "2m"), 2*time.Minute),
			PersistTimeout:  parseDuration(envOrDefault("PERSIST_TIMEOUT", "10s"), 10*time.Second),
		},
		Events: EventsConfig{
			Backend:       strings.ToLower(envOrDefault("EVENTS_BACKEND", EventsBackendNone)),
			Topic:         envOrDefault("EVENTS_TOPIC", "chat.exchanges"),
			ConsumerGroup: envOrDefault("EVENTS_CONSUMER_GROUP", "mindful-ai"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.History.Backend {
	case HistoryBackendMemory, HistoryBackendMongo, HistoryBackendPostgres, HistoryBackendSQLite:
	default:
		return fmt.Errorf("config: unknown HISTORY_BACKEND %q", c.History.Backend)
	}

	switch c.Gateway.Provider {
	case GatewayProviderGemini, GatewayProviderOpenAI:
	default:
		return fmt.Errorf("config: unknown GATEWAY_PROVIDER %q", c.Gateway.Provider)
	}

	switch c.Events.Backend {
	case EventsBackendNone, EventsBackendGoChannel:
	case EventsBackendRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("config: EVENTS_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("config: unknown EVENTS_BACKEND %q", c.Events.Backend)
	}

	if c.History.Window <= 0 {
		return fmt.Errorf("config: HISTORY_WINDOW must be positive, got %d", c.History.Window)
	}
	if c.History.MaxTurns < 0 {
		return fmt.Errorf("config: HISTORY_MAX_TURNS must not be negative, got %d", c.History.MaxTurns)
	}
	if c.History.MaxTurns > 0 && c.History.MaxTurns < c.History.Window {
		return fmt.Errorf("config: HISTORY_MAX_TURNS (%d) must be at least HISTORY_WINDOW (%d)", c.History.MaxTurns, c.History.Window)
	}

	if c.Relay.ExchangeTimeout <= 0 {
		return fmt.Errorf("config: EXCHANGE_TIMEOUT must be positive, got %s", c.Relay.ExchangeTimeout)
	}
	if c.Relay.PersistTimeout <= 0 {
		return fmt.Errorf("config: PERSIST_TIMEOUT must be positive, got %s", c.Relay.PersistTimeout)
	}

	return nil
}

// APIKey returns the credential for the selected provider.
func (g GatewayConfig) APIKey() string {
	if g.Provider == GatewayProviderOpenAI {
		return strings.TrimSpace(g.OpenAIAPIKey)
	}
	return strings.TrimSpace(g.GeminiAPIKey)
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
