// Package pipeline runs the per-request verification sequence for protected
// routes: resolve the identity, check role permissions, score the request's
// risk, enforce the threshold, and commit the verdict to the audit ledger.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veritas/internal/audit/stream"
	"veritas/internal/challenge"
	"veritas/internal/domain"
	"veritas/internal/identity"
	"veritas/internal/jwttoken"
	"veritas/internal/ledger"
	"veritas/internal/platform/config"
	"veritas/internal/platform/metrics"
	"veritas/internal/policy"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"

	"log/slog"
)

const (
	headerDeviceInfo = "x-device-info"
	headerPrivateKey = "X-Private-Key"
	headerClientID   = "X-Client-ID"
	headerProof      = "X-ZKP-Proof"

	anonymousSubject = "Unknown"
)

// Pipeline wires the verification stages together. One instance serves all
// protected routes.
type Pipeline struct {
	identity   *identity.Service
	tokens     *jwttoken.JWTService
	challenges *challenge.Registry
	ledger     *ledger.Service
	publisher  *stream.Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	threshold int
	failMode  string
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPublisher attaches the best-effort audit event stream.
func WithPublisher(pub *stream.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// New constructs the pipeline. threshold is the risk score above which
// requests are denied; failMode decides what a deny-path ledger
// failure does to the response (config.AuditFailOpen or AuditFailClosed).
func New(
	ids *identity.Service,
	tokens *jwttoken.JWTService,
	challenges *challenge.Registry,
	chain *ledger.Service,
	logger *slog.Logger,
	threshold int,
	failMode string,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		identity:   ids,
		tokens:     tokens,
		challenges: challenges,
		ledger:     chain,
		logger:     logger,
		tracer:     otel.Tracer("veritas/pipeline"),
		threshold:  threshold,
		failMode:   failMode,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Verify is the middleware for protected routes. Every request that reaches
// it produces exactly one ledger entry, granted or denied.
func (p *Pipeline) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := p.tracer.Start(r.Context(), "pipeline.verify",
			trace.WithAttributes(attribute.String("http.route", r.URL.Path)))
		defer span.End()

		action := r.Method + " " + r.URL.Path
		device := p.deviceAttributes(r)

		subject, err := p.resolveIdentity(ctx, r)
		if err != nil {
			p.deny(ctx, w, denial{
				subject:   anonymousSubject,
				action:    action,
				device:    device,
				level:     domain.RiskCritical,
				score:     100,
				details:   "Missing or Invalid Token",
				respErr:   dErrors.New(dErrors.CodeUnauthorized, "Access Denied: Invalid Token"),
				spanLabel: "identity",
			}, span)
			return
		}
		span.SetAttributes(attribute.String("subject", subject.Username))
		ctx = requestcontext.WithSubject(ctx, subject.Username, string(subject.Role))

		if allowed, reason := policy.CheckPermissions(subject.Role, r.URL.Path); !allowed {
			p.deny(ctx, w, denial{
				subject:   subject.Username,
				action:    action,
				device:    device,
				level:     domain.RiskHigh,
				score:     0,
				details:   reason,
				respErr:   dErrors.New(dErrors.CodeForbidden, reason),
				spanLabel: "rbac",
			}, span)
			return
		}

		decision := policy.EvaluateRisk(subject.Role, device, r.URL.Path, requestcontext.Now(ctx))
		level := policy.LevelForScore(decision.Score)
		span.SetAttributes(attribute.Int("risk.score", decision.Score))
		ctx = requestcontext.WithRisk(ctx, string(level), decision.Score)

		if decision.Score > p.threshold {
			if err := p.identity.RecordRisk(ctx, subject.Username, decision.Score); err != nil {
				p.logger.WarnContext(ctx, "could not accumulate subject risk",
					"subject", subject.Username, "error", err)
			}
			respErr := dErrors.New(dErrors.CodeForbidden, "Access Denied: Risk Threshold Exceeded").
				WithReasons(decision.Reasons)
			p.deny(ctx, w, denial{
				subject:   subject.Username,
				action:    action,
				device:    device,
				level:     level,
				score:     decision.Score,
				details:   fmt.Sprintf("Risk Score too high: %d", decision.Score),
				respErr:   respErr,
				spanLabel: "risk",
			}, span)
			return
		}

		details := "All checks passed"
		if issues := policy.HealthIssues(device); len(issues) > 0 {
			details = "Granted with device findings: " + strings.Join(issues, ", ")
		}

		event := p.newEvent(subject.Username, action, domain.OutcomeGranted, level, decision.Score, device, details)
		if _, err := p.ledger.Append(ctx, event); err != nil {
			// Availability over auditability on the allow path.
			p.logger.ErrorContext(ctx, "granted verdict not recorded in ledger",
				"subject", subject.Username, "action", action, "error", err)
		}
		p.publisher.Publish(ctx, event)
		if p.metrics != nil {
			p.metrics.ObserveVerification(string(domain.OutcomeGranted), decision.Score)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// VerifyIdentityOnly is the relaxed middleware for read-only monitoring
// routes: token required, no risk scoring, no ledger write.
func (p *Pipeline) VerifyIdentityOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		subject, err := p.resolveIdentity(ctx, r)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Access Denied"))
			return
		}
		ctx = requestcontext.WithSubject(ctx, subject.Username, string(subject.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveIdentity accepts, in order of precedence, a bearer token, a direct
// private key, or a challenge proof pair.
func (p *Pipeline) resolveIdentity(ctx context.Context, r *http.Request) (domain.Subject, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "malformed authorization header")
		}
		claims, err := p.tokens.ValidateToken(token)
		if err != nil {
			return domain.Subject{}, err
		}
		subject, err := p.identity.Lookup(ctx, claims.Username)
		if err != nil {
			return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		if !subject.Active {
			return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return subject, nil
	}

	if key := r.Header.Get(headerPrivateKey); key != "" {
		return p.identity.AuthenticateKey(ctx, key)
	}

	clientID := r.Header.Get(headerClientID)
	proof := r.Header.Get(headerProof)
	if clientID != "" && proof != "" {
		return p.resolveProof(ctx, clientID, proof)
	}

	return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "no credentials presented")
}

// resolveProof checks a challenge response. The client identifier is the
// username; the secret side is the subject's private key.
func (p *Pipeline) resolveProof(ctx context.Context, clientID, proof string) (domain.Subject, error) {
	subject, err := p.identity.Lookup(ctx, clientID)
	if err != nil {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	if !subject.Active {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	ok, err := p.challenges.Consume(ctx, clientID, proof, subject.PrivateKey)
	if err != nil || !ok {
		if p.metrics != nil {
			p.metrics.ChallengeOutcomes.WithLabelValues("rejected").Inc()
		}
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	if p.metrics != nil {
		p.metrics.ChallengeOutcomes.WithLabelValues("accepted").Inc()
	}
	return subject, nil
}

// deviceAttributes parses the device posture header, falling back to the
// User-Agent for the operating system when the header does not carry one.
func (p *Pipeline) deviceAttributes(r *http.Request) domain.DeviceAttributes {
	device := domain.ParseDeviceAttributes(r.Header.Get(headerDeviceInfo))
	if device.OS == "" {
		if ua := r.UserAgent(); ua != "" {
			device.OS = useragent.New(ua).OSInfo().FullName
		}
	}
	return device
}

type denial struct {
	subject   string
	action    string
	device    domain.DeviceAttributes
	level     domain.RiskLevel
	score     int
	details   string
	respErr   error
	spanLabel string
}

// deny records the denial on the ledger and answers the caller. In closed
// fail mode an unrecordable denial is answered as unavailable instead,
// so no verdict goes unaudited.
func (p *Pipeline) deny(ctx context.Context, w http.ResponseWriter, d denial, span trace.Span) {
	span.SetAttributes(attribute.String("deny.stage", d.spanLabel))

	event := p.newEvent(d.subject, d.action, domain.OutcomeDenied, d.level, d.score, d.device, d.details)
	appendErr := error(nil)
	if _, err := p.ledger.Append(ctx, event); err != nil {
		appendErr = err
		p.logger.ErrorContext(ctx, "denied verdict not recorded in ledger",
			"subject", d.subject, "action", d.action, "error", err)
	}
	p.publisher.Publish(ctx, event)
	if p.metrics != nil {
		p.metrics.ObserveVerification(string(domain.OutcomeDenied), d.score)
	}

	if appendErr != nil && p.failMode == config.AuditFailClosed {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "verification temporarily unavailable"))
		return
	}
	httputil.WriteError(w, d.respErr)
}

func (p *Pipeline) newEvent(subject, action string, outcome domain.Outcome, level domain.RiskLevel, score int, device domain.DeviceAttributes, details string) domain.AuditEvent {
	return domain.AuditEvent{
		ID:        uuid.NewString(),
		Subject:   subject,
		Action:    action,
		Outcome:   outcome,
		RiskLevel: level,
		RiskScore: score,
		Device:    device.Snapshot(),
		Details:   details,
		Timestamp: time.Now(),
		Version:   domain.ProtocolVersion,
	}
}
