package domain

import "time"

// Outcome is the terminal verdict of one verification pass.
type Outcome string

const (
	OutcomeGranted Outcome = "Granted"
	OutcomeDenied  Outcome = "Denied"
	OutcomeBlocked Outcome = "Blocked"
)

// RiskLevel buckets a numeric score for operators and enforcement.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskElevated RiskLevel = "Elevated"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// ProtocolVersion tags audit events so a future re-scoring of historical
// data knows which rule set produced them.
const ProtocolVersion = "v1"

// AuditEvent is the plaintext unit recorded per verification. Immutable
// once constructed; consumed only by the ledger (and mirrored to the
// best-effort stream).
type AuditEvent struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Action    string            `json:"action"`
	Outcome   Outcome           `json:"outcome"`
	RiskLevel RiskLevel         `json:"riskLevel"`
	RiskScore int               `json:"riskScore"`
	Device    map[string]string `json:"device"`
	Details   string            `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
}

// PolicyDecision is the ephemeral result of risk evaluation. It is
// persisted only as part of an AuditEvent.
type PolicyDecision struct {
	Score     int
	Level     RiskLevel
	Reasons   []string
	Timestamp time.Time
}
