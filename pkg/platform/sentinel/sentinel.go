package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores (ledger, challenge
// registry, subjects) return these wrapped so services can translate them
// into domain errors without string matching.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store (missing challenge, unknown subject)
// - ErrExpired: challenge or token past its usable window
// - ErrAlreadyUsed: single-use resource already consumed
// - ErrInvalidState: entity in wrong state for requested operation (empty chain)
// - ErrUnavailable: store or mirror temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
