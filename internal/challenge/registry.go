// Package challenge implements the single-use nonce registry behind the
// proof-of-knowledge login flow. A client asks for a challenge, computes
// SHA-256(secret + challenge), and proves possession of the secret without
// transmitting it.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"veritas/pkg/platform/sentinel"
)

// DefaultCapacity bounds the registry when the caller passes zero.
const DefaultCapacity = 1000

// Algorithm names the proof scheme in issuance responses.
const Algorithm = "SHA256-Proof-of-Knowledge"

// Registry is a bounded, mutex-guarded map of client correlator to pending
// nonce. When full, the oldest entry is evicted first. Constructed once and
// passed by reference to both the issuing and consuming paths so multiple
// gateway instances can be tested in isolation.
//
// Entries have no TTL beyond capacity eviction. A failed proof does NOT
// consume the entry, so a correct proof still works after a typo; that
// usability trade-off leaves a replay window until the first success and is
// a known hardening gap.
type Registry struct {
	mu       sync.Mutex
	nonces   map[string]string
	order    []string
	capacity int
}

// NewRegistry constructs an empty registry bounded at capacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		nonces:   make(map[string]string),
		capacity: capacity,
	}
}

// Issue generates a fresh random nonce for clientID, evicting the oldest
// entry if the registry is at capacity. Re-issuing for a known client
// replaces its pending nonce.
func (r *Registry) Issue(_ context.Context, clientID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge: generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nonces[clientID]; exists {
		r.removeFromOrder(clientID)
	} else if len(r.nonces) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.nonces, oldest)
	}

	r.nonces[clientID] = nonce
	r.order = append(r.order, clientID)
	return nonce, nil
}

// Consume verifies proof against the pending nonce for clientID, where
// proof is expected to be hex(SHA-256(secret + nonce)), compared
// case-insensitively. On success the entry is deleted (single use) and true
// is returned. On mismatch the entry is kept and false is returned. A
// missing entry is an error wrapping sentinel.ErrNotFound.
func (r *Registry) Consume(_ context.Context, clientID, proof, secret string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, ok := r.nonces[clientID]
	if !ok {
		return false, fmt.Errorf("challenge not found for client %q: %w", clientID, sentinel.ErrNotFound)
	}

	expected := Proof(secret, nonce)
	if !strings.EqualFold(expected, proof) {
		return false, nil
	}

	delete(r.nonces, clientID)
	r.removeFromOrder(clientID)
	return true, nil
}

// Len returns the number of pending challenges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nonces)
}

func (r *Registry) removeFromOrder(clientID string) {
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Proof computes the expected lowercase-hex proof for a secret and nonce.
// Exported so clients and tests derive proofs the exact same way.
func Proof(secret, nonce string) string {
	digest := sha256.Sum256([]byte(secret + nonce))
	return hex.EncodeToString(digest[:])
}
