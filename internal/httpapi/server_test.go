package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/editdag"
	"github.com/rsform/weaver/internal/query"
	"github.com/rsform/weaver/internal/store/analytical"
)

func integrationDSN(t *testing.T) string {
	dsn := os.Getenv("WEAVER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set WEAVER_TEST_POSTGRES_DSN to run httpapi integration tests")
	}
	return dsn
}

// newTestServer builds a Server with a nil svc/hub, enough for the routes
// that don't reach query.Service (health, auth gating, rate limiting).
// Routes that do touch the store get their own integration test below,
// gated the same way analytical's and query's own tests are.
func newTestServer() *Server {
	return NewServer(nil, nil, nil, ServerConfig{
		JWTSecret:       "viewer-secret",
		AdminJWTSecret:  "admin-secret",
		GossipSecret:    []byte("01234567890123456789012345678901"),
		RateLimitMax:    2,
		RateLimitWindow: time.Minute,
	}, zap.NewNop())
}

func signToken(t *testing.T, secret, did string, scopes []string) string {
	t.Helper()
	claims := viewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		DID:              did,
		Scopes:           scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUnknownRPCMethodIs404(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/rpc/weaver.query.nonsense", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "not_found" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
}

func TestRPCRateLimited(t *testing.T) {
	s := newTestServer()
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/rpc/weaver.query.nonsense", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("rate limited too early on request %d", i)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/rpc/weaver.query.nonsense", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 3rd request, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestAdminStatusRequiresAdminScope(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/status?consumer_id=weaver-indexer", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no token, got %d", rec.Code)
	}

	viewerTok := signToken(t, "viewer-secret", "did:plc:abc", nil)
	req = httptest.NewRequest(http.MethodGet, "/admin/status?consumer_id=weaver-indexer", nil)
	req.Header.Set("Authorization", "Bearer "+viewerTok)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token signed with the viewer secret, got %d", rec.Code)
	}

	adminTok := signToken(t, "admin-secret", "did:plc:abc", []string{"admin:read"})
	req = httptest.NewRequest(http.MethodGet, "/admin/status?consumer_id=weaver-indexer", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	// With no store wired, the assertion here is that scope-gating itself
	// passed rather than failing at the 401/403 stage.
	if rec.Code == http.StatusUnauthorized || rec.Code == http.StatusForbidden {
		t.Fatalf("expected auth to pass for a correctly-scoped admin token, got %d", rec.Code)
	}
}

func TestAdminStatusRejectsMissingScope(t *testing.T) {
	s := newTestServer()
	tok := signToken(t, "admin-secret", "did:plc:abc", []string{"admin:write"})
	req := httptest.NewRequest(http.MethodGet, "/admin/status?consumer_id=weaver-indexer", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a token missing admin:read, got %d", rec.Code)
	}
}

func TestAdminStatusRequiresConsumerID(t *testing.T) {
	s := newTestServer()
	tok := signToken(t, "admin-secret", "did:plc:abc", []string{"admin:read"})
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing consumer_id, got %d", rec.Code)
	}
}

func TestDashboardServesHTML(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestCollabUpgradeRequiresResourceAndNodeID(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/ws/collab", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing resource, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/collab?resource=not-a-uri&node_id=n1", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unparseable resource uri, got %d", rec.Code)
	}
}

func TestViewerDIDOptionalOnQueryRoutes(t *testing.T) {
	s := newTestServer()
	if got := s.viewerDID(httptest.NewRequest(http.MethodGet, "/rpc/weaver.query.getEntry", nil)); got != "" {
		t.Fatalf("expected empty viewer did with no header, got %q", got)
	}
	req := httptest.NewRequest(http.MethodGet, "/rpc/weaver.query.getEntry", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	if got := s.viewerDID(req); got != "" {
		t.Fatalf("expected empty viewer did for garbage token, got %q", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/rpc/weaver.query.getEntry", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "viewer-secret", "did:plc:abc", nil))
	if got := s.viewerDID(req); got != "did:plc:abc" {
		t.Fatalf("expected did:plc:abc, got %q", got)
	}
}

// TestRPCIntegration exercises handleRPC end to end against a real
// query.Service, mirroring query's own integration test gating.
func TestRPCIntegration(t *testing.T) {
	ctx := context.Background()
	store, err := analytical.Open(ctx, integrationDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	graphs := editdag.NewGraphLoader(store.DB())
	svc := query.NewService(store, graphs, nil, zap.NewNop())
	s := NewServer(svc, nil, store, ServerConfig{
		JWTSecret:       "viewer-secret",
		AdminJWTSecret:  "admin-secret",
		RateLimitMax:    600,
		RateLimitWindow: time.Minute,
	}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/rpc/weaver.query.getEntry?uri=at://did:plc:missing/weaver.notebook.entry/r1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing entry, got %d: %s", rec.Code, rec.Body.String())
	}
}
