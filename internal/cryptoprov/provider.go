// Package cryptoprov owns the gateway's cryptographic identity: the
// long-term RSA signing keypair, the symmetric data-encryption key for
// ledger payloads, and the canonical content commitment over audit events.
//
// One Provider is constructed at startup and injected everywhere; nothing
// reaches for ambient key material.
package cryptoprov

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"veritas/internal/domain"
)

const rsaKeyBits = 2048

const privateKeyPEMType = "RSA PRIVATE KEY"

// Provider holds the signing keypair and the payload encryption key.
type Provider struct {
	signingKey *rsa.PrivateKey
	aead       cipher.AEAD
	// ephemeralDataKey is true when no LEDGER_DATA_KEY was configured and a
	// process-lifetime key was generated. Blocks written under it cannot be
	// decrypted after a restart; this is a documented weakness, not a bug.
	ephemeralDataKey bool
}

// New loads or creates the signing keypair at keyPath and prepares the
// AES-256-GCM payload cipher from dataKeyHex (64 hex chars). An empty
// dataKeyHex falls back to a freshly generated process-lifetime key.
//
// Failure to persist a newly generated signing key is fatal: the gateway
// cannot safely issue signatures without a stable identity key.
func New(keyPath, dataKeyHex string, logger *slog.Logger) (*Provider, error) {
	signingKey, err := loadOrCreateKeypair(keyPath)
	if err != nil {
		return nil, err
	}

	p := &Provider{signingKey: signingKey}

	var dataKey []byte
	switch {
	case dataKeyHex != "":
		dataKey, err = hex.DecodeString(dataKeyHex)
		if err != nil || len(dataKey) != 32 {
			return nil, errors.New("cryptoprov: LEDGER_DATA_KEY must be 64 hex characters (32 bytes)")
		}
	default:
		dataKey = make([]byte, 32)
		if _, err := rand.Read(dataKey); err != nil {
			return nil, fmt.Errorf("cryptoprov: generate fallback data key: %w", err)
		}
		p.ephemeralDataKey = true
		logger.Warn("no ledger data key configured, generated a process-lifetime key; " +
			"blocks written under it will not decrypt after restart")
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("cryptoprov: init payload cipher: %w", err)
	}
	p.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoprov: init GCM: %w", err)
	}
	return p, nil
}

func loadOrCreateKeypair(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		block, _ := pem.Decode(raw)
		if block == nil || block.Type != privateKeyPEMType {
			return nil, fmt.Errorf("cryptoprov: %s does not contain a %s PEM block", path, privateKeyPEMType)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cryptoprov: parse signing key: %w", err)
		}
		return key, nil
	case os.IsNotExist(err):
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("cryptoprov: generate signing key: %w", err)
		}
		encoded := pem.EncodeToMemory(&pem.Block{
			Type:  privateKeyPEMType,
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		if err := os.WriteFile(path, encoded, 0o600); err != nil {
			return nil, fmt.Errorf("cryptoprov: persist signing key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("cryptoprov: read signing key: %w", err)
	}
}

// Sign returns a PKCS1v15 signature over SHA-256 of message.
func (p *Provider) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.signingKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoprov: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over message. Malformed
// signatures return false, never an error or panic.
func (p *Provider) Verify(message, sig []byte) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(&p.signingKey.PublicKey, crypto.SHA256, digest[:], sig) == nil
}

// Encrypt seals plaintext with AES-256-GCM. The random nonce is prefixed to
// the returned ciphertext.
func (p *Provider) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptoprov: encrypt nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (p *Provider) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < p.aead.NonceSize() {
		return nil, errors.New("cryptoprov: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:p.aead.NonceSize()], ciphertext[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoprov: decrypt: %w", err)
	}
	return plaintext, nil
}

// EphemeralDataKey reports whether the payload key was generated at startup
// rather than configured.
func (p *Provider) EphemeralDataKey() bool { return p.ephemeralDataKey }

// PublicKeyPEM exports the verification half of the signing keypair.
func (p *Provider) PublicKeyPEM() string {
	der := x509.MarshalPKCS1PublicKey(&p.signingKey.PublicKey)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}))
}

// Commit computes the one-level content commitment ("merkle root") over an
// audit event: every field flattened to key/value strings, keys sorted,
// serialized as key=value lines, SHA-256, lowercase hex. It must stay
// byte-stable under map iteration order, which is the whole point of the
// sort.
func Commit(event domain.AuditEvent) string {
	pairs := map[string]string{
		"id":        event.ID,
		"subject":   event.Subject,
		"action":    event.Action,
		"outcome":   string(event.Outcome),
		"riskLevel": string(event.RiskLevel),
		"riskScore": strconv.Itoa(event.RiskScore),
		"details":   event.Details,
		"timestamp": strconv.FormatInt(event.Timestamp.UnixMilli(), 10),
		"version":   event.Version,
	}
	for k, v := range event.Device {
		pairs["device."+k] = v
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(pairs[k])
		b.WriteByte('\n')
	}
	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])
}
