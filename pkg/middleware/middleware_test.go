package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"SocietyPortal/internal/access"
	"SocietyPortal/internal/identity"
	"SocietyPortal/internal/identity/identitytest"
	"SocietyPortal/internal/token"
)

type testEnv struct {
	e         *echo.Echo
	tokens    *token.Service
	operators *identitytest.Operators
	members   *identitytest.Members
}

func newTestEnv(t *testing.T, ops []*identity.Operator, members []*identity.Member) *testEnv {
	t.Helper()
	env := &testEnv{
		e:         echo.New(),
		operators: identitytest.NewOperators(ops...),
		members:   identitytest.NewMembers(members...),
	}
	tokens, err := token.New("mw-secret", "society-portal", 3*time.Hour)
	require.NoError(t, err)
	env.tokens = tokens

	resolver := identity.NewResolver(env.operators, env.members, zap.NewNop())
	authn := NewAuthenticator(tokens, resolver, zap.NewNop())
	guard := NewGuard(access.NewEngine(access.Config{SuperEmail: "css@gmail.com"}, zap.NewNop()), zap.NewNop())

	whoami := func(c echo.Context) error {
		s, _ := identity.SessionFromContext(c.Request().Context())
		return c.JSON(http.StatusOK, s)
	}
	api := env.e.Group("/api", authn.Authenticate)
	api.GET("/me", whoami)
	api.GET("/teams", whoami, guard.RequireCapability(identity.CanManageTeams))
	api.GET("/audit", whoami, guard.RequireSuper())
	return env
}

func (env *testEnv) get(path, authz string) (int, map[string]any) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func (env *testEnv) bearer(t *testing.T, id string, version int) string {
	t.Helper()
	tok, _, err := env.tokens.Issue(id, version)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestAuthenticate(t *testing.T) {
	op := &identity.Operator{Email: "Admin@X.com", IsActive: true, TokenVersion: 2, Permissions: identity.DefaultOperatorPermissions()}
	active := &identity.Member{RollNumber: "M1", ContactEmail: "m1@uni.edu", Approved: true, IsActivated: true}
	pending := &identity.Member{RollNumber: "M2", ContactEmail: "m2@uni.edu"}
	unactivated := &identity.Member{RollNumber: "M3", ContactEmail: "m3@uni.edu", Approved: true}
	env := newTestEnv(t, []*identity.Operator{op}, []*identity.Member{active, pending, unactivated})

	code, body := env.get("/api/me", env.bearer(t, op.ID.Hex(), 2))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, op.ID.Hex(), body["id"])
	assert.Equal(t, "admin@x.com", body["email"])

	code, body = env.get("/api/me", env.bearer(t, active.ID.Hex(), 0))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "m1@uni.edu", body["email"])

	cases := []struct {
		name  string
		authz string
		msg   string
	}{
		{"missing header", "", "Authentication required"},
		{"wrong scheme", "Basic abc", "Malformed authorization header"},
		{"empty bearer", "Bearer ", "Malformed authorization header"},
		{"garbage token", "Bearer not-a-jwt", "Invalid or expired token"},
		{"stale version", env.bearer(t, op.ID.Hex(), 1), "Invalid or expired token"},
		{"unknown subject", env.bearer(t, "65f1c2a9e4b0a1b2c3d4e5f6", 0), "Identity not recognized"},
		{"pending member", env.bearer(t, pending.ID.Hex(), 0), identity.GateMessage},
		{"unactivated member", env.bearer(t, unactivated.ID.Hex(), 0), identity.GateMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := env.get("/api/me", tc.authz)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.msg, body["message"])
		})
	}
}

func TestAuthenticateStoreFailure(t *testing.T) {
	op := &identity.Operator{Email: "admin@x.com", IsActive: true}
	env := newTestEnv(t, []*identity.Operator{op}, nil)
	authz := env.bearer(t, op.ID.Hex(), 0)
	env.operators.Err = identitytest.ErrUnavailable

	code, body := env.get("/api/me", authz)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
}

func TestDisabledOperatorTokensStopWorking(t *testing.T) {
	op := &identity.Operator{Email: "admin@x.com", IsActive: true, Permissions: identity.DefaultOperatorPermissions()}
	env := newTestEnv(t, []*identity.Operator{op}, nil)
	authz := env.bearer(t, op.ID.Hex(), 0)

	code, _ := env.get("/api/me", authz)
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, env.operators.SetActive(context.Background(), op.ID, false))
	code, _ = env.get("/api/me", authz)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestInactiveOperatorRejectedEvenWithCurrentVersion(t *testing.T) {
	op := &identity.Operator{Email: "idle@x.com", IsActive: false, TokenVersion: 1, Permissions: identity.DefaultOperatorPermissions()}
	env := newTestEnv(t, []*identity.Operator{op}, nil)

	code, body := env.get("/api/me", env.bearer(t, op.ID.Hex(), 1))
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Identity not recognized", body["message"])
}

func TestGuards(t *testing.T) {
	plain := &identity.Operator{Email: "admin@x.com", IsActive: true, Permissions: identity.DefaultOperatorPermissions()}
	teams := &identity.Operator{Email: "teams@x.com", IsActive: true, Permissions: identity.Permissions{GeneralAccess: true, CanManageTeams: true}}
	noGeneral := &identity.Operator{Email: "nogen@x.com", IsActive: true, Permissions: identity.Permissions{CanManageTeams: true}}
	super := &identity.Operator{Email: " CSS@Gmail.com ", IsActive: true}
	env := newTestEnv(t, []*identity.Operator{plain, teams, noGeneral, super}, nil)

	code, body := env.get("/api/teams", env.bearer(t, plain.ID.Hex(), 0))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Insufficient clearance: canManageTeams required", body["message"])

	code, _ = env.get("/api/teams", env.bearer(t, noGeneral.ID.Hex(), 0))
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = env.get("/api/teams", env.bearer(t, teams.ID.Hex(), 0))
	assert.Equal(t, http.StatusOK, code)

	code, _ = env.get("/api/teams", env.bearer(t, super.ID.Hex(), 0))
	assert.Equal(t, http.StatusOK, code)

	code, body = env.get("/api/audit", env.bearer(t, teams.ID.Hex(), 0))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Super administrator access required", body["message"])

	code, _ = env.get("/api/audit", env.bearer(t, super.ID.Hex(), 0))
	assert.Equal(t, http.StatusOK, code)
}

func TestGuardWithoutSession(t *testing.T) {
	e := echo.New()
	guard := NewGuard(access.NewEngine(access.Config{SuperEmail: "css@gmail.com"}, nil), zap.NewNop())
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, guard.RequireSuper())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.allowed, s.err }

func TestRateLimitMiddleware(t *testing.T) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	tests := []struct {
		name    string
		limiter LoginLimiter
		want    int
	}{
		{"allowed", stubLimiter{allowed: true}, http.StatusNoContent},
		{"denied", stubLimiter{allowed: false}, http.StatusTooManyRequests},
		{"limiter error fails open", stubLimiter{allowed: true, err: errors.New("redis down")}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.POST("/auth/login", ok, RateLimit(tt.limiter, zap.NewNop()))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter(60, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, allowed)

	allowed, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, allowed, "keys are limited independently")

	now = now.Add(time.Second)
	allowed, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, allowed, "one token refills per second at 60/min")
}

func loginStatuses(t *testing.T, extractor echo.IPExtractor, remoteAddr string, forwardedFor []string) []int {
	t.Helper()
	e := echo.New()
	e.IPExtractor = extractor
	e.POST("/auth/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		RateLimit(NewMemoryLimiter(1, 1), zap.NewNop()))

	codes := make([]int, 0, len(forwardedFor))
	for _, xff := range forwardedFor {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remoteAddr
		req.Header.Set(echo.HeaderXForwardedFor, xff)
		req.Header.Set(echo.HeaderXRealIP, xff)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	return codes
}

func TestClientIPExtractorIgnoresSpoofedForwardedFor(t *testing.T) {
	extractor, err := ClientIPExtractor(nil)
	require.NoError(t, err)

	rotated := make([]string, 50)
	for i := range rotated {
		rotated[i] = fmt.Sprintf("198.51.100.%d", i+1)
	}
	codes := loginStatuses(t, extractor, "203.0.113.7:4000", rotated)

	assert.Equal(t, http.StatusNoContent, codes[0])
	for i, code := range codes[1:] {
		assert.Equal(t, http.StatusTooManyRequests, code, "request %d", i+2)
	}
}

func TestClientIPExtractorTrustedProxy(t *testing.T) {
	extractor, err := ClientIPExtractor([]string{"10.1.0.0/16"})
	require.NoError(t, err)

	viaProxy := loginStatuses(t, extractor, "10.1.2.3:5000", []string{"198.51.100.1", "198.51.100.2", "198.51.100.1"})
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, viaProxy,
		"clients behind a trusted proxy get their own bucket")

	direct := loginStatuses(t, extractor, "203.0.113.7:4000", []string{"198.51.100.1", "198.51.100.2"})
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, direct,
		"forwarded headers from an untrusted peer are ignored")
}

func TestClientIPExtractorRejectsBadRange(t *testing.T) {
	_, err := ClientIPExtractor([]string{"not-a-cidr"})
	assert.Error(t, err)

	_, err = ClientIPExtractor([]string{" 192.168.1.5 ", "fd00::1"})
	assert.NoError(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = bearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = bearerToken("Token abc")
	assert.False(t, ok)
	_, ok = bearerToken("Bearer")
	assert.False(t, ok)
}
