// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// The verification pipeline sets these after each stage (identity, risk) and
// downstream handlers read them without importing net/http. Tests inject
// values directly:
//
//	ctx = requestcontext.WithSubject(ctx, "ops_admin", "admin")
//	ctx = requestcontext.WithTime(ctx, fixedClock)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	usernameKey  struct{}
	roleKey      struct{}
	riskLevelKey struct{}
	riskScoreKey struct{}
	clientIPKey  struct{}
	requestIDKey struct{}
	timeKey      struct{}
)

// WithSubject records the resolved identity on the context.
func WithSubject(ctx context.Context, username, role string) context.Context {
	ctx = context.WithValue(ctx, usernameKey{}, username)
	return context.WithValue(ctx, roleKey{}, role)
}

// Username returns the resolved subject username, or "" before identity
// resolution has run.
func Username(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey{}).(string); ok {
		return v
	}
	return ""
}

// Role returns the resolved subject role, or "" if unresolved.
func Role(ctx context.Context) string {
	if v, ok := ctx.Value(roleKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRisk records the pipeline's risk verdict for downstream consumers.
func WithRisk(ctx context.Context, level string, score int) context.Context {
	ctx = context.WithValue(ctx, riskLevelKey{}, level)
	return context.WithValue(ctx, riskScoreKey{}, score)
}

// RiskLevel returns the risk level attached by the pipeline, or "" if the
// request has not been risk-evaluated.
func RiskLevel(ctx context.Context) string {
	if v, ok := ctx.Value(riskLevelKey{}).(string); ok {
		return v
	}
	return ""
}

// RiskScore returns the numeric risk score, or -1 if not evaluated.
func RiskScore(ctx context.Context) int {
	if v, ok := ctx.Value(riskScoreKey{}).(int); ok {
		return v
	}
	return -1
}

// WithClientIP records the remote address for audit snapshots.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the remote address, or "".
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID records the correlation ID set by middleware.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation ID, or "".
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTime pins the request clock. Risk evaluation reads the hour of day
// through Now so tests control the business-hours factor.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, t)
}

// Now returns the pinned request time, falling back to the wall clock.
func Now(ctx context.Context) time.Time {
	if v, ok := ctx.Value(timeKey{}).(time.Time); ok {
		return v
	}
	return time.Now()
}
