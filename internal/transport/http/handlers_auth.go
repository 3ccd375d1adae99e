package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"veritas/internal/challenge"
	"veritas/internal/domain"
	"veritas/internal/platform/metrics"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_auth.go -destination=mocks/auth_mocks.go -package=mocks IdentityService,TokenIssuer,ChallengeService

// IdentityService is the subset of identity operations the auth surface
// needs.
type IdentityService interface {
	Register(ctx context.Context, username, email, password string, role domain.Role, privateKey string) (domain.Subject, error)
	AuthenticateKey(ctx context.Context, privateKey string) (domain.Subject, error)
	Lookup(ctx context.Context, username string) (domain.Subject, error)
}

// TokenIssuer mints access tokens for verified subjects.
type TokenIssuer interface {
	GenerateAccessToken(subject domain.Subject) (string, error)
}

// ChallengeService issues and consumes proof-of-knowledge challenges.
type ChallengeService interface {
	Issue(ctx context.Context, clientID string) (string, error)
	Consume(ctx context.Context, clientID, proof, secret string) (bool, error)
}

// AuthHandler serves enrollment, login, and the challenge protocol.
type AuthHandler struct {
	identity   IdentityService
	tokens     TokenIssuer
	challenges ChallengeService
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewAuthHandler(ids IdentityService, tokens TokenIssuer, challenges ChallengeService, logger *slog.Logger, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{
		identity:   ids,
		tokens:     tokens,
		challenges: challenges,
		logger:     logger,
		metrics:    m,
	}
}

// Register mounts the auth endpoints on the router.
func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/api/auth/register", h.HandleRegister)
	r.Post("/api/auth/login", h.HandleLogin)
	r.Post("/api/auth/challenge", h.HandleChallenge)
	r.Post("/api/auth/prove", h.HandleProve)
}

type registerRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	PrivateKey string `json:"private_key"`
}

type registerResponse struct {
	Message    string `json:"message"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	PrivateKey string `json:"private_key"`
}

// HandleRegister enrolls a subject. The private key appears in this
// response and nowhere else.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[registerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	subject, err := h.identity.Register(ctx, req.Username, req.Email, req.Password, domain.ParseRole(req.Role), req.PrivateKey)
	if err != nil {
		h.logger.WarnContext(ctx, "registration failed",
			"request_id", requestID,
			"username", req.Username,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		Message:    "User registered successfully",
		Username:   subject.Username,
		Role:       string(subject.Role),
		PrivateKey: subject.PrivateKey,
	})
}

type loginRequest struct {
	PrivateKey string `json:"private_key"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// HandleLogin exchanges a private key for an access token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[loginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	subject, err := h.identity.AuthenticateKey(ctx, strings.TrimSpace(req.PrivateKey))
	if err != nil {
		h.logger.WarnContext(ctx, "login rejected", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.issueToken(w, r, subject)
}

type challengeRequest struct {
	ClientID string `json:"client_id"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
	ClientID  string `json:"client_id"`
	Algorithm string `json:"algorithm"`
}

// HandleChallenge issues a single-use nonce. An absent client_id gets a
// generated one; the prover must echo it back.
func (h *AuthHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[challengeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	nonce, err := h.challenges.Issue(ctx, req.ClientID)
	if err != nil {
		h.logger.ErrorContext(ctx, "challenge issuance failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ChallengesIssued.Inc()
	}

	httputil.WriteJSON(w, http.StatusOK, challengeResponse{
		Challenge: nonce,
		ClientID:  req.ClientID,
		Algorithm: challenge.Algorithm,
	})
}

type proveRequest struct {
	Username string `json:"username"`
	ClientID string `json:"client_id"`
	Proof    string `json:"zkp_proof"`
}

// HandleProve consumes a challenge proof and issues a token. The proof is
// the hex SHA-256 of the subject's private key concatenated with the nonce,
// so the key itself never crosses the wire.
func (h *AuthHandler) HandleProve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[proveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.Username == "" || req.ClientID == "" || req.Proof == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "username, client_id, and zkp_proof are required"))
		return
	}

	subject, err := h.identity.Lookup(ctx, req.Username)
	if err != nil {
		h.rejectProof(ctx, w, requestID, req.Username)
		return
	}
	if !subject.Active {
		h.rejectProof(ctx, w, requestID, req.Username)
		return
	}

	accepted, err := h.challenges.Consume(ctx, req.ClientID, req.Proof, subject.PrivateKey)
	if err != nil || !accepted {
		if h.metrics != nil {
			h.metrics.ChallengeOutcomes.WithLabelValues("rejected").Inc()
		}
		h.rejectProof(ctx, w, requestID, req.Username)
		return
	}
	if h.metrics != nil {
		h.metrics.ChallengeOutcomes.WithLabelValues("accepted").Inc()
	}

	h.issueToken(w, r, subject)
}

// rejectProof answers every proof failure identically so callers cannot
// probe which part was wrong.
func (h *AuthHandler) rejectProof(ctx context.Context, w http.ResponseWriter, requestID, username string) {
	h.logger.WarnContext(ctx, "challenge proof rejected", "request_id", requestID, "username", username)
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials"))
}

func (h *AuthHandler) issueToken(w http.ResponseWriter, r *http.Request, subject domain.Subject) {
	ctx := r.Context()
	token, err := h.tokens.GenerateAccessToken(subject)
	if err != nil {
		h.logger.ErrorContext(ctx, "token issuance failed",
			"request_id", requestcontext.RequestID(ctx),
			"username", subject.Username,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not issue token", err))
		return
	}

	h.logger.InfoContext(ctx, "access token issued",
		"request_id", requestcontext.RequestID(ctx),
		"username", subject.Username,
		"role", subject.Role,
	)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:    token,
		Username: subject.Username,
		Role:     string(subject.Role),
	})
}
