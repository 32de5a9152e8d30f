// Package config loads gateway configuration from the environment, optionally
// seeded from a .env file in development.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "GENASCOPE"

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv       = "GENASCOPE_APP_ENV"
	EnvBackendURL   = "GENASCOPE_BACKEND_URL"
	EnvSessionStore = "GENASCOPE_SESSION_STORE"
	EnvRedisURL     = "GENASCOPE_REDIS_URL"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	App     AppConfig
	Server  ServerConfig
	Backend BackendConfig
	Session SessionConfig
	Redis   RedisConfig
	Audit   AuditConfig
	Tracing TracingConfig
}

// Load reads .env when present and then processes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv processes the environment without touching .env.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Backend.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Session.validate(cfg.Redis); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env      string `envconfig:"GENASCOPE_APP_ENV" default:"dev"`
	LogLevel string `envconfig:"GENASCOPE_LOG_LEVEL" default:"info"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServerConfig struct {
	Addr            string        `envconfig:"GENASCOPE_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"GENASCOPE_READ_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"GENASCOPE_IDLE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `envconfig:"GENASCOPE_REQUEST_TIMEOUT" default:"45s"`
	ShutdownTimeout time.Duration `envconfig:"GENASCOPE_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxBodyBytes    int64         `envconfig:"GENASCOPE_MAX_BODY_BYTES" default:"1048576"`
	StaticDir       string        `envconfig:"GENASCOPE_STATIC_DIR" default:"./web/dist"`
}

// BackendConfig locates the external Genascope API.
type BackendConfig struct {
	URL                  string        `envconfig:"GENASCOPE_BACKEND_URL" default:"http://localhost:8000"`
	Timeout              time.Duration `envconfig:"GENASCOPE_BACKEND_TIMEOUT" default:"30s"`
	TokenPath            string        `envconfig:"GENASCOPE_BACKEND_TOKEN_PATH" default:"/auth/token"`
	MePath               string        `envconfig:"GENASCOPE_BACKEND_ME_PATH" default:"/auth/me"`
	InviteVerifyPath     string        `envconfig:"GENASCOPE_BACKEND_INVITE_VERIFY_PATH" default:"/invites/verify"`
	SimplifiedAccessPath string        `envconfig:"GENASCOPE_BACKEND_SIMPLIFIED_ACCESS_PATH" default:"/auth/simplified-access"`
	BreakerFailures      int           `envconfig:"GENASCOPE_BACKEND_BREAKER_FAILURES" default:"5"`
	BreakerCooldown      time.Duration `envconfig:"GENASCOPE_BACKEND_BREAKER_COOLDOWN" default:"10s"`
}

func (b *BackendConfig) normalize() error {
	b.URL = strings.TrimRight(strings.TrimSpace(b.URL), "/")
	u, err := url.Parse(b.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s %q", EnvBackendURL, b.URL)
	}
	for _, p := range []*string{&b.TokenPath, &b.MePath, &b.InviteVerifyPath, &b.SimplifiedAccessPath} {
		if !strings.HasPrefix(*p, "/") {
			*p = "/" + *p
		}
	}
	return nil
}

type SessionConfig struct {
	Store                 string        `envconfig:"GENASCOPE_SESSION_STORE" default:"memory"`
	CookieName            string        `envconfig:"GENASCOPE_SESSION_COOKIE" default:"genascope_session"`
	CookieSecure          bool          `envconfig:"GENASCOPE_SESSION_COOKIE_SECURE" default:"true"`
	InactivityWindow      time.Duration `envconfig:"GENASCOPE_INACTIVITY_WINDOW" default:"30m"`
	SimplifiedMaxLifetime time.Duration `envconfig:"GENASCOPE_SIMPLIFIED_MAX_LIFETIME" default:"4h"`
	RevalidateTimeout     time.Duration `envconfig:"GENASCOPE_REVALIDATE_TIMEOUT" default:"10s"`
	RetentionGrace        time.Duration `envconfig:"GENASCOPE_SESSION_RETENTION_GRACE" default:"1h"`
	DefaultTTL            time.Duration `envconfig:"GENASCOPE_SESSION_DEFAULT_TTL" default:"24h"`
	CleanupInterval       time.Duration `envconfig:"GENASCOPE_SESSION_CLEANUP_INTERVAL" default:"5m"`
}

func (s SessionConfig) validate(redis RedisConfig) error {
	switch s.Store {
	case StoreMemory:
	case StoreRedis:
		if redis.URL == "" {
			return fmt.Errorf("%s=redis requires %s", EnvSessionStore, EnvRedisURL)
		}
	default:
		return fmt.Errorf("unknown %s %q", EnvSessionStore, s.Store)
	}
	if s.InactivityWindow <= 0 || s.SimplifiedMaxLifetime <= 0 {
		return fmt.Errorf("session windows must be positive")
	}
	return nil
}

type RedisConfig struct {
	URL             string        `envconfig:"GENASCOPE_REDIS_URL"`
	PoolSize        int           `envconfig:"GENASCOPE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns    int           `envconfig:"GENASCOPE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout     time.Duration `envconfig:"GENASCOPE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"GENASCOPE_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout    time.Duration `envconfig:"GENASCOPE_REDIS_WRITE_TIMEOUT" default:"3s"`
	StatsInterval   time.Duration `envconfig:"GENASCOPE_REDIS_STATS_INTERVAL" default:"15s"`
	ChangesChannel  string        `envconfig:"GENASCOPE_REDIS_CHANGES_CHANNEL" default:"genascope:session:changes"`
	SessionKeySpace string        `envconfig:"GENASCOPE_REDIS_SESSION_PREFIX" default:"genascope:session:"`
}

// AuditConfig controls where session lifecycle events go. With no brokers the
// events stay in the in-process store.
type AuditConfig struct {
	KafkaBrokers []string `envconfig:"GENASCOPE_AUDIT_KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"GENASCOPE_AUDIT_KAFKA_TOPIC" default:"genascope.session.audit"`
	Buffer       int      `envconfig:"GENASCOPE_AUDIT_BUFFER" default:"256"`
}

func (a AuditConfig) KafkaEnabled() bool {
	return len(a.KafkaBrokers) > 0
}

type TracingConfig struct {
	Enabled bool `envconfig:"GENASCOPE_TRACING_ENABLED" default:"false"`
}
