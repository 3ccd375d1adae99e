package httptransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"veritas/internal/domain"
	"veritas/internal/ledger"
	"veritas/internal/transport/http/mocks"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/requestcontext"
)

// stubVerifier stands in for the pipeline: it injects a fixed identity and
// risk verdict instead of scoring the request.
type stubVerifier struct {
	username string
	role     string
	level    string
}

func (v stubVerifier) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithSubject(r.Context(), v.username, v.role)
		ctx = requestcontext.WithRisk(ctx, v.level, 0)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (v stubVerifier) VerifyIdentityOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(requestcontext.WithSubject(r.Context(), v.username, v.role)))
	})
}

type ResourceHandlerSuite struct {
	suite.Suite
}

func (s *ResourceHandlerSuite) TestResources() {
	s.T().Run("public resource reports the risk verdict", func(t *testing.T) {
		_, router := s.newHandler(t, stubVerifier{username: "alice", role: "user", level: "Low"})

		rr := s.get(t, router, "/api/secure/public-resource")

		assert.Equal(t, http.StatusOK, rr.Code)
		body := s.body(t, rr)
		assert.Equal(t, "Access Granted to Public Resource", body["message"])
		assert.Equal(t, "Low", body["riskLevel"])
	})

	s.T().Run("confidential resource serves cleared roles", func(t *testing.T) {
		_, router := s.newHandler(t, stubVerifier{username: "alice", role: "user", level: "Elevated"})

		rr := s.get(t, router, "/api/secure/confidential-resource")

		assert.Equal(t, http.StatusOK, rr.Code)
		body := s.body(t, rr)
		assert.Equal(t, "Access Granted to Confidential Resource", body["message"])
		assert.Equal(t, "TOP SECRET DATA: 42", body["data"])
	})

	s.T().Run("confidential resource blocks guests", func(t *testing.T) {
		_, router := s.newHandler(t, stubVerifier{username: "visitor", role: "guest", level: "Low"})

		rr := s.get(t, router, "/api/secure/confidential-resource")

		assert.Equal(t, http.StatusForbidden, rr.Code)
		body := s.body(t, rr)
		assert.Equal(t, string(dErrors.CodeForbidden), body["error"])
		assert.Equal(t, "Access Denied: Insufficient Role for Confidential Data", body["error_description"])
	})

	s.T().Run("admin panel requires admin", func(t *testing.T) {
		_, router := s.newHandler(t, stubVerifier{username: "alice", role: "user", level: "Low"})

		rr := s.get(t, router, "/api/secure/admin-panel")

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "Access Denied: Administrators Only", s.body(t, rr)["error_description"])
	})

	s.T().Run("admin panel welcomes admins", func(t *testing.T) {
		_, router := s.newHandler(t, stubVerifier{username: "root", role: "admin", level: "Low"})

		rr := s.get(t, router, "/api/secure/admin-panel")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Welcome to Admin Panel", s.body(t, rr)["message"])
	})
}

func (s *ResourceHandlerSuite) TestLogs() {
	s.T().Run("returns decoded audit events and skips opaque payloads", func(t *testing.T) {
		svc, router := s.newHandler(t, stubVerifier{username: "root", role: "admin", level: "Low"})
		views := []ledger.BlockView{
			{Index: 2, Data: json.RawMessage(`{"id":"ev-2","subject":"alice","action":"GET /api/secure/public-resource","outcome":"Granted"}`)},
			{Index: 1, DataError: "decode failed: payload does not decrypt under the current data key"},
		}
		svc.EXPECT().Read(gomock.Any(), 50).Return(views, nil)

		rr := s.get(t, router, "/api/secure/logs")

		assert.Equal(t, http.StatusOK, rr.Code)
		var events []domain.AuditEvent
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
		require.Len(t, events, 1)
		assert.Equal(t, "ev-2", events[0].ID)
		assert.Equal(t, domain.OutcomeGranted, events[0].Outcome)
	})

	s.T().Run("read failure - 500", func(t *testing.T) {
		svc, router := s.newHandler(t, stubVerifier{username: "root", role: "admin", level: "Low"})
		svc.EXPECT().Read(gomock.Any(), 50).Return(nil, dErrors.New(dErrors.CodeInternal, "store gone"))

		rr := s.get(t, router, "/api/secure/logs")

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestResourceHandlerSuite(t *testing.T) {
	suite.Run(t, new(ResourceHandlerSuite))
}

func (s *ResourceHandlerSuite) newHandler(t *testing.T, verifier Verifier) (*mocks.MockLedgerService, *chi.Mux) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := mocks.NewMockLedgerService(ctrl)
	handler := NewResourceHandler(svc, logger)
	r := chi.NewRouter()
	handler.Register(r, verifier)
	return svc, r
}

func (s *ResourceHandlerSuite) get(t *testing.T, router *chi.Mux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func (s *ResourceHandlerSuite) body(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}
