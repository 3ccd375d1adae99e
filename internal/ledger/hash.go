package ledger

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
)

// Difficulty is the fixed proof-of-work predicate: the block hash must start
// with this prefix. Two hex zeros keep mining a small constant cost (~256
// attempts expected) - a tamper deterrent, not consensus.
const Difficulty = "00"

// ComputeHash derives a block hash from its stored fields:
//
//	SHA-256(index ‖ previous_hash ‖ timestamp_ms ‖ base64(ciphertext) ‖ nonce ‖ commitment)
//
// Integers are concatenated in decimal, the ciphertext in standard base64,
// so the preimage is reproducible byte-for-byte from persisted fields.
func ComputeHash(index int64, previousHash string, timestampMS int64, ciphertext []byte, nonce int64, commitment string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(index, 10))
	b.WriteString(previousHash)
	b.WriteString(strconv.FormatInt(timestampMS, 10))
	b.WriteString(base64.StdEncoding.EncodeToString(ciphertext))
	b.WriteString(strconv.FormatInt(nonce, 10))
	b.WriteString(commitment)

	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])
}

// MeetsDifficulty reports whether a hash satisfies the proof-of-work
// predicate.
func MeetsDifficulty(hash string) bool {
	return strings.HasPrefix(hash, Difficulty)
}
