package domain

import "time"

// Role is the coarse access tier a subject holds. Zone membership is
// derived from it by the policy engine.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDeveloper  Role = "developer"
	RoleUser       Role = "user"
	RoleGuest      Role = "guest"
	RoleRestricted Role = "restricted"
)

// ParseRole maps a string onto a known role, defaulting unknown values to
// guest so a mangled claim never grants more than the floor tier.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleDeveloper, RoleUser, RoleGuest, RoleRestricted:
		return Role(s)
	default:
		return RoleGuest
	}
}

// Subject is an enrolled identity. Subjects are never hard-deleted: the
// ledger references them by username, so removal is a soft disable.
type Subject struct {
	Username string
	Email    string
	Role     Role
	// PasswordHash is the bcrypt hash of the enrollment password.
	PasswordHash string
	// PrivateKey is the long-lived credential used for direct-key login and
	// as the secret side of the challenge-response protocol. Unique.
	PrivateKey string
	// RiskScore accumulates across denied verifications.
	RiskScore int
	Active    bool
	CreatedAt time.Time
}
