package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgstrings "provisioner/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr           string
	RequestTimeout time.Duration
	TrustedProxies []string
	Logging        Logging
	Backend        Backend
	Redis          RedisConfig
	Audit          Audit
	Bootstrap      Bootstrap
}

// Logging controls the slog handler.
type Logging struct {
	Level  string
	Format string // text|json
}

// Backend describes the managed auth + database platform.
type Backend struct {
	URL                 string
	ServiceRoleKey      string
	JWTSecret           string
	CallTimeout         time.Duration
	RetryMax            int
	CompensationTimeout time.Duration
}

// RedisConfig is optional; an empty URL disables redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Audit selects where audit events go.
type Audit struct {
	Sink        string // memory|postgres|kafka
	DatabaseURL string
	Brokers     []string
	Topic       string
}

// Bootstrap configures the seeded accounts.
type Bootstrap struct {
	AccountsFile  string
	AdminPassword string
	FrontPassword string
	ProfilePolicy string
	RatePerMinute int
	LockTTL       time.Duration
}

const (
	AuditSinkMemory   = "memory"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// FromEnv builds the Server config from environment variables so main stays
// lean. A .env file in the working directory is loaded first when present.
func FromEnv() Server {
	_ = godotenv.Load()

	return Server{
		Addr:           envOr("PROVISIONER_ADDR", ":8080"),
		RequestTimeout: durationOr("REQUEST_TIMEOUT", 30*time.Second),
		TrustedProxies: pkgstrings.SplitList(os.Getenv("TRUSTED_PROXIES"), ","),
		Logging: Logging{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "text"),
		},
		Backend: Backend{
			URL:                 strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
			ServiceRoleKey:      os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
			JWTSecret:           os.Getenv("SUPABASE_JWT_SECRET"),
			CallTimeout:         durationOr("BACKEND_CALL_TIMEOUT", 10*time.Second),
			RetryMax:            intOr("BACKEND_RETRY_MAX", 2),
			CompensationTimeout: durationOr("COMPENSATION_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: intOr("REDIS_MIN_IDLE_CONNS", 1),
			DialTimeout:  durationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Audit: Audit{
			Sink:        strings.ToLower(envOr("AUDIT_SINK", AuditSinkMemory)),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Brokers:     pkgstrings.SplitList(os.Getenv("KAFKA_BROKERS"), ","),
			Topic:       envOr("KAFKA_AUDIT_TOPIC", "provisioning.audit"),
		},
		Bootstrap: Bootstrap{
			AccountsFile:  os.Getenv("BOOTSTRAP_ACCOUNTS_FILE"),
			AdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
			FrontPassword: os.Getenv("BOOTSTRAP_ACCUEIL_PASSWORD"),
			ProfilePolicy: envOr("BOOTSTRAP_PROFILE_POLICY", "compensate"),
			RatePerMinute: intOr("BOOTSTRAP_RATE_PER_MINUTE", 6),
			LockTTL:       durationOr("BOOTSTRAP_LOCK_TTL", time.Minute),
		},
	}
}

// Validate reports every missing or inconsistent setting at once.
func (s Server) Validate() error {
	var errs []error
	if s.Backend.URL == "" {
		errs = append(errs, errors.New("SUPABASE_URL is required"))
	}
	if s.Backend.ServiceRoleKey == "" {
		errs = append(errs, errors.New("SUPABASE_SERVICE_ROLE_KEY is required"))
	}
	if s.Backend.CallTimeout <= 0 {
		errs = append(errs, errors.New("BACKEND_CALL_TIMEOUT must be positive"))
	}
	switch s.Audit.Sink {
	case AuditSinkMemory:
	case AuditSinkPostgres:
		if s.Audit.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres audit sink"))
		}
	case AuditSinkKafka:
		if len(s.Audit.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka audit sink"))
		}
	default:
		errs = append(errs, errors.New("AUDIT_SINK must be one of memory, postgres, kafka"))
	}
	switch s.Bootstrap.ProfilePolicy {
	case "compensate", "best_effort":
	default:
		errs = append(errs, errors.New("BOOTSTRAP_PROFILE_POLICY must be compensate or best_effort"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
