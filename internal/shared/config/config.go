package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Data modes select the record store behind the assignment engine.
const (
	DataModeMock = "mock"
	DataModeLive = "live"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	KurrentDB   KurrentDBConfig   `mapstructure:"kurrentdb"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Recommender RecommenderConfig `mapstructure:"recommender"`
	Data        DataConfig        `mapstructure:"data"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Lock        LockConfig        `mapstructure:"lock"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	HIS         HISConfig         `mapstructure:"his"`
	Log         LogConfig         `mapstructure:"log"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Policy      PolicyConfig      `mapstructure:"policy"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Enabled turns on the event bus and makes the kurrentdb audit backend available
	Enabled bool `mapstructure:"enabled"`
	// Host is the KurrentDB server hostname
	Host string `mapstructure:"host"`
	// Port is the gRPC/HTTP port (default 2113)
	Port int `mapstructure:"port"`
	// Insecure disables TLS (for development)
	Insecure bool   `mapstructure:"insecure"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// RecommenderConfig configures the external assignment recommender.
type RecommenderConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Path          string        `mapstructure:"path"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// DataConfig selects between mock and live record stores. This is the
// explicit mode flag at the application boundary.
type DataConfig struct {
	Mode         string `mapstructure:"mode"`
	AuditBackend string `mapstructure:"audit_backend"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	LockWait time.Duration `mapstructure:"lock_wait"`
}

type LockConfig struct {
	// Backend: "local" for a single process, "redis" across processes
	Backend string `mapstructure:"backend"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// HISConfig points at the hospital information system SQL Server that owns the staff and bed roster.
type HISConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Database   string        `mapstructure:"name"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	Encrypt    bool          `mapstructure:"encrypt"`
	StaffTable string        `mapstructure:"staff_table"`
	BedTable   string        `mapstructure:"bed_table"`
	Interval   time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type PolicyConfig struct {
	// CriticalReviewOnFallback flags critical patients assigned without the external recommender
	CriticalReviewOnFallback bool `mapstructure:"critical_review_on_fallback"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":                        "SERVER_PORT",
	"server.env":                         "ENV",
	"database.host":                      "DB_HOST",
	"database.port":                      "DB_PORT",
	"database.user":                      "DB_USER",
	"database.password":                  "DB_PASSWORD",
	"database.name":                      "DB_NAME",
	"database.sslmode":                   "DB_SSLMODE",
	"database.max_conns":                 "DB_MAX_CONNS",
	"database.min_conns":                 "DB_MIN_CONNS",
	"kurrentdb.enabled":                  "KURRENTDB_ENABLED",
	"kurrentdb.host":                     "KURRENTDB_HOST",
	"kurrentdb.port":                     "KURRENTDB_PORT",
	"kurrentdb.insecure":                 "KURRENTDB_INSECURE",
	"kurrentdb.username":                 "KURRENTDB_USERNAME",
	"kurrentdb.password":                 "KURRENTDB_PASSWORD",
	"auth.enabled":                       "AUTH_ENABLED",
	"auth.jwt_secret":                    "JWT_SECRET",
	"recommender.enabled":                "RECOMMENDER_ENABLED",
	"recommender.url":                    "RECOMMENDER_URL",
	"recommender.path":                   "RECOMMENDER_PATH",
	"recommender.token":                  "RECOMMENDER_TOKEN",
	"recommender.timeout":                "RECOMMENDER_TIMEOUT",
	"recommender.retry_count":            "RECOMMENDER_RETRY_COUNT",
	"recommender.rate_per_second":        "RECOMMENDER_RATE_PER_SECOND",
	"recommender.burst":                  "RECOMMENDER_BURST",
	"data.mode":                          "DATA_MODE",
	"data.audit_backend":                 "AUDIT_BACKEND",
	"redis.addr":                         "REDIS_ADDR",
	"redis.password":                     "REDIS_PASSWORD",
	"redis.db":                           "REDIS_DB",
	"redis.lock_key":                     "REDIS_LOCK_KEY",
	"redis.lock_ttl":                     "REDIS_LOCK_TTL",
	"redis.lock_wait":                    "REDIS_LOCK_WAIT",
	"lock.backend":                       "LOCK_BACKEND",
	"mqtt.enabled":                       "MQTT_ENABLED",
	"mqtt.broker":                        "MQTT_BROKER",
	"mqtt.client_id":                     "MQTT_CLIENT_ID",
	"mqtt.username":                      "MQTT_USERNAME",
	"mqtt.password":                      "MQTT_PASSWORD",
	"mqtt.topic_prefix":                  "MQTT_TOPIC_PREFIX",
	"his.enabled":                        "HIS_ENABLED",
	"his.host":                           "HIS_HOST",
	"his.port":                           "HIS_PORT",
	"his.name":                           "HIS_DB_NAME",
	"his.user":                           "HIS_USER",
	"his.password":                       "HIS_PASSWORD",
	"his.encrypt":                        "HIS_ENCRYPT",
	"his.staff_table":                    "HIS_STAFF_TABLE",
	"his.bed_table":                      "HIS_BED_TABLE",
	"his.interval":                       "HIS_IMPORT_INTERVAL",
	"log.level":                          "LOG_LEVEL",
	"log.format":                         "LOG_FORMAT",
	"ratelimit.rps":                      "RATE_LIMIT_RPS",
	"ratelimit.burst":                    "RATE_LIMIT_BURST",
	"policy.critical_review_on_fallback": "POLICY_CRITICAL_REVIEW_ON_FALLBACK",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "carefront")
	v.SetDefault("database.password", "carefront")
	v.SetDefault("database.name", "carefront")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("kurrentdb.enabled", false)
	v.SetDefault("kurrentdb.host", "localhost")
	v.SetDefault("kurrentdb.port", 2113)
	v.SetDefault("kurrentdb.insecure", true)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "dev-secret-change-in-prod")

	v.SetDefault("recommender.enabled", true)
	v.SetDefault("recommender.url", "http://localhost:8000")
	v.SetDefault("recommender.path", "/admission/recommend")
	v.SetDefault("recommender.timeout", 25*time.Second)
	v.SetDefault("recommender.retry_count", 0)
	v.SetDefault("recommender.rate_per_second", 5.0)
	v.SetDefault("recommender.burst", 10)

	v.SetDefault("data.mode", DataModeMock)
	v.SetDefault("data.audit_backend", "memory")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_key", "carefront:resource-pool:lock")
	v.SetDefault("redis.lock_ttl", 10*time.Second)
	v.SetDefault("redis.lock_wait", 5*time.Second)

	v.SetDefault("lock.backend", "local")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "carefront-platform")
	v.SetDefault("mqtt.topic_prefix", "carefront")

	v.SetDefault("his.enabled", false)
	v.SetDefault("his.port", 1433)
	v.SetDefault("his.staff_table", "dbo.Staff")
	v.SetDefault("his.bed_table", "dbo.Beds")
	v.SetDefault("his.interval", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ratelimit.rps", 100)
	v.SetDefault("ratelimit.burst", 200)

	v.SetDefault("policy.critical_review_on_fallback", true)
}

// Load reads configuration from defaults, an optional .env file and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	// .env is optional; its values sit below real environment variables
	if err := v.ReadInConfig(); err == nil {
		for key, env := range envBindings {
			if name := strings.ToLower(env); v.InConfig(name) {
				v.SetDefault(key, v.Get(name))
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown mode and backend selections.
func (c *Config) Validate() error {
	switch c.Data.Mode {
	case DataModeMock, DataModeLive:
	default:
		return fmt.Errorf("invalid data mode %q (want %q or %q)", c.Data.Mode, DataModeMock, DataModeLive)
	}

	switch c.Data.AuditBackend {
	case "memory", "postgres", "kurrentdb":
	default:
		return fmt.Errorf("invalid audit backend %q", c.Data.AuditBackend)
	}

	switch c.Lock.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("invalid lock backend %q", c.Lock.Backend)
	}

	if c.Recommender.Timeout <= 0 {
		return fmt.Errorf("recommender timeout must be positive")
	}
	return nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
