package cryptoprov

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "signing.pem")
	p, err := New(keyPath, "", testLogger())
	require.NoError(t, err)
	return p
}

func TestNew_PersistsAndReloadsKeypair(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.pem")

	first, err := New(keyPath, "", testLogger())
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := New(keyPath, "", testLogger())
	require.NoError(t, err)

	// Same key on disk means signatures verify across instances.
	sig, err := first.Sign([]byte("block-hash"))
	require.NoError(t, err)
	assert.True(t, second.Verify([]byte("block-hash"), sig))
}

func TestNew_RejectsBadDataKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.pem")
	_, err := New(keyPath, "not-hex", testLogger())
	assert.Error(t, err)

	_, err = New(keyPath, "abcd", testLogger())
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	p := newTestProvider(t)

	sig, err := p.Sign([]byte("payload"))
	require.NoError(t, err)

	assert.True(t, p.Verify([]byte("payload"), sig))
	assert.False(t, p.Verify([]byte("tampered"), sig))
	assert.False(t, p.Verify([]byte("payload"), []byte("garbage")))
	assert.False(t, p.Verify([]byte("payload"), nil))
}

func TestEncryptDecrypt(t *testing.T) {
	p := newTestProvider(t)

	ct, err := p.Encrypt([]byte(`{"subject":"admin"}`))
	require.NoError(t, err)
	assert.NotEqual(t, []byte(`{"subject":"admin"}`), ct)

	pt, err := p.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"subject":"admin"}`), pt)
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	p := newTestProvider(t)

	ct, err := p.Encrypt([]byte("audit event"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = p.Decrypt(ct)
	assert.Error(t, err)

	_, err = p.Decrypt([]byte{0x01})
	assert.Error(t, err)
}

func TestCommit_StableUnderKeyReordering(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := domain.AuditEvent{
		ID:        "evt-1",
		Subject:   "guest_auditor",
		Action:    "GET /api/secure/public-resource",
		Outcome:   domain.OutcomeDenied,
		RiskLevel: domain.RiskCritical,
		RiskScore: 100,
		Device:    map[string]string{"antivirus": "false", "os": "Outdated", "ipReputation": "Bad", "location": ""},
		Details:   "Risk Score too high",
		Timestamp: ts,
		Version:   domain.ProtocolVersion,
	}
	reordered := base
	reordered.Device = map[string]string{"location": "", "ipReputation": "Bad", "os": "Outdated", "antivirus": "false"}

	assert.Equal(t, Commit(base), Commit(reordered))
	assert.Len(t, Commit(base), 64)

	changed := base
	changed.Details = "All checks passed"
	assert.NotEqual(t, Commit(base), Commit(changed))
}
