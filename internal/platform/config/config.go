package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all runtime configuration so main stays lean.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Crypto   Crypto
	Policy   Policy
	Ledger   Ledger
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	TokenTTL      time.Duration
}

// Postgres configures the primary durable store. An empty DSN selects the
// in-memory stores (dev and unit-test mode).
type Postgres struct {
	DSN string
}

// Redis configures the optional ledger mirror. Empty URL disables mirroring.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the best-effort audit event stream. Empty brokers
// disables publishing.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Crypto configures the signing identity and payload encryption.
type Crypto struct {
	// KeyPath is where the long-term RSA signing key persists (PEM).
	KeyPath string
	// DataKey is the hex-encoded 32-byte AES key for payload encryption.
	// When empty a process-lifetime key is generated: blocks written under
	// a generated key cannot be decrypted after restart. Documented
	// weakness, supply a key in any real deployment.
	DataKey string
}

// Policy captures enforcement tunables.
type Policy struct {
	// EnforcementThreshold is the risk score above which requests are denied.
	EnforcementThreshold int
	// AuditFailMode decides what happens to a deny verdict when the ledger
	// append itself fails: "open" rejects the request with the original
	// denial only, "closed" also refuses to serve allow verdicts until the
	// ledger recovers.
	AuditFailMode string
	// ChallengeCapacity bounds the single-use challenge registry.
	ChallengeCapacity int
}

// Ledger captures chain tunables. Difficulty is a fixed deterrent, not a
// consensus knob.
type Ledger struct {
	ReadLimit int
}

const (
	AuditFailOpen   = "open"
	AuditFailClosed = "closed"
)

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          getenv("VERITAS_ADDR", ":8080"),
			JWTSigningKey: getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			TokenTTL:      getenvDuration("TOKEN_TTL", time.Hour),
		},
		Postgres: Postgres{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getenvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getenvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getenvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_AUDIT_TOPIC", "veritas.audit.events"),
		},
		Crypto: Crypto{
			KeyPath: getenv("SIGNING_KEY_PATH", "veritas_signing_key.pem"),
			DataKey: os.Getenv("LEDGER_DATA_KEY"),
		},
		Policy: Policy{
			EnforcementThreshold: getenvInt("RISK_ENFORCEMENT_THRESHOLD", 60),
			AuditFailMode:        getenv("AUDIT_FAIL_MODE", AuditFailOpen),
			ChallengeCapacity:    getenvInt("CHALLENGE_CAPACITY", 1000),
		},
		Ledger: Ledger{
			ReadLimit: getenvInt("LEDGER_READ_LIMIT", 100),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
