package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, time.Hour, cfg.Server.TokenTTL)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Empty(t, cfg.Redis.URL)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Equal(t, "veritas.audit.events", cfg.Kafka.Topic)
	assert.Equal(t, 60, cfg.Policy.EnforcementThreshold)
	assert.Equal(t, AuditFailOpen, cfg.Policy.AuditFailMode)
	assert.Equal(t, 1000, cfg.Policy.ChallengeCapacity)
	assert.Equal(t, 100, cfg.Ledger.ReadLimit)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("VERITAS_ADDR", ":9000")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092,")
	t.Setenv("AUDIT_FAIL_MODE", AuditFailClosed)
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("RISK_ENFORCEMENT_THRESHOLD", "80")

	cfg := FromEnv()

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, AuditFailClosed, cfg.Policy.AuditFailMode)
	assert.Equal(t, 30*time.Minute, cfg.Server.TokenTTL)
	assert.Equal(t, 80, cfg.Policy.EnforcementThreshold)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TOKEN_TTL", "not-a-duration")
	t.Setenv("RISK_ENFORCEMENT_THRESHOLD", "eleven")

	cfg := FromEnv()

	assert.Equal(t, time.Hour, cfg.Server.TokenTTL)
	assert.Equal(t, 60, cfg.Policy.EnforcementThreshold)
}
