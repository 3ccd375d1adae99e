package policy

import (
	"fmt"
	"time"

	"veritas/internal/domain"
)

// Risk factor weights. Independent contributions accumulate before the
// sensitive-zone multiplier and the 0..100 clamp.
const (
	weightGuestRole      = 10
	weightRestrictedRole = 40
	weightNoAntivirus    = 30
	weightBadOS          = 20
	weightBadIP          = 50
	weightAfterHours     = 15
)

// sensitiveZoneMultiplier raises sensitivity for admin and secure paths.
const sensitiveZoneMultiplier = 1.2

// Business hours window: access at hour < 6 or > 22 is after-hours.
const (
	businessHoursStart = 6
	businessHoursEnd   = 22
)

// approvedOS lists the operating systems the device baseline accepts.
var approvedOS = map[string]bool{
	"Windows 11": true,
	"MacOS":      true,
	"Linux":      true,
}

// EvaluateRisk accumulates an integer risk score from independent identity,
// device, and context factors. Pure function of its inputs plus the passed
// clock: deterministic for fixed inputs and a fixed now. Every contributing
// factor appends its reason in evaluation order.
func EvaluateRisk(role domain.Role, device domain.DeviceAttributes, path string, now time.Time) domain.PolicyDecision {
	score := 0
	var reasons []string

	// Identity risk.
	switch role {
	case domain.RoleGuest:
		score += weightGuestRole
		reasons = append(reasons, "Guest access level assigned")
	case domain.RoleRestricted:
		score += weightRestrictedRole
		reasons = append(reasons, "Account under restriction")
	}

	// Device attribute risk.
	if !device.Antivirus {
		score += weightNoAntivirus
		reasons = append(reasons, "Security Service: Antivirus Disabled")
	}
	if os := device.OS; os == "Outdated" || !approvedOS[os] {
		score += weightBadOS
		reasons = append(reasons, fmt.Sprintf("OS Version Insufficient: %s", displayOS(os)))
	}
	if device.IPReputation == "Bad" {
		score += weightBadIP
		reasons = append(reasons, "Network Reputation: MALICIOUS_IP_DETECTED")
	}

	// Contextual risk.
	if hour := now.Hour(); hour < businessHoursStart || hour > businessHoursEnd {
		score += weightAfterHours
		reasons = append(reasons, "Access attempted during non-business hours")
	}

	// Sensitive paths raise sensitivity across the board.
	scaled := float64(score)
	if zone := ClassifyZone(path); zone == ZoneAdmin || zone == ZoneSecure {
		scaled *= sensitiveZoneMultiplier
	}

	final := int(scaled)
	if final > 100 {
		final = 100
	}

	return domain.PolicyDecision{
		Score:     final,
		Level:     LevelForScore(final),
		Reasons:   reasons,
		Timestamp: now,
	}
}

// LevelForScore maps a clamped score onto its risk level via the fixed
// thresholds. The same mapping feeds enforcement and audit records.
func LevelForScore(score int) domain.RiskLevel {
	switch {
	case score > 70:
		return domain.RiskCritical
	case score > 40:
		return domain.RiskHigh
	case score > 20:
		return domain.RiskElevated
	default:
		return domain.RiskLow
	}
}

// HealthIssues summarizes failing posture checks for audit details, in the
// same order the risk factors evaluate.
func HealthIssues(device domain.DeviceAttributes) []string {
	var issues []string
	if !device.Antivirus {
		issues = append(issues, "Antivirus Disabled")
	}
	if device.OS == "Outdated" {
		issues = append(issues, "OS Outdated")
	}
	if device.IPReputation == "Bad" {
		issues = append(issues, "Suspicious IP")
	}
	return issues
}

func displayOS(os string) string {
	if os == "" {
		return "Unknown"
	}
	return os
}
