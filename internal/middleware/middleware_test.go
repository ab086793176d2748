package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-auction/internal/config"
	"github.com/iliyamo/live-auction/internal/model"
	"github.com/iliyamo/live-auction/internal/utils"
)

const testSecret = "test-secret"

func token(t *testing.T, id model.Identity) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, id, time.Minute)
	require.NoError(t, err)
	return tok.Token
}

func protected(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.GET("/p", func(c echo.Context) error {
		id, _ := IdentityFrom(c)
		return c.JSON(http.StatusOK, id)
	}, mw...)
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	protected(e, JWTAuth(testSecret))
	bidder := model.Identity{UserID: 5, TenantID: 2, Role: model.RoleBidder}

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, bidder))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"UserID":5`)
}

func TestTokenFromRequestSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	require.Equal(t, "q", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer h")
	require.Equal(t, "h", TokenFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "c"})
	require.Equal(t, "c", TokenFromRequest(req))

	require.Empty(t, TokenFromRequest(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	protected(e, JWTAuth(testSecret), RequireRole(model.RoleAdmin, model.RoleSuperAdmin))

	for role, want := range map[string]int{
		model.RoleAdmin:  http.StatusOK,
		model.RoleBidder: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, model.Identity{UserID: 1, TenantID: 1, Role: role}))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, role)
	}
}

type fakeBucket struct {
	allowed bool
	err     error
	keys    []string
}

func (f *fakeBucket) take(_ context.Context, key string, _ time.Time) (bool, int64, int64, error) {
	f.keys = append(f.keys, key)
	return f.allowed, 3, 1500, f.err
}

func TestTokenBucketBlocksAndFailsOpen(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 4, KeyStrategy: "user_route", Prefix: "rl"}

	blocked := &fakeBucket{allowed: false}
	e := echo.New()
	protected(e, JWTAuth(testSecret), newTokenBucket(cfg, blocked, nil))
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, model.Identity{UserID: 9, TenantID: 1, Role: model.RoleBidder}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Equal(t, "4", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, []string{"rl:user:9:route:GET /p"}, blocked.keys)

	broken := &fakeBucket{err: errors.New("redis down")}
	e = echo.New()
	protected(e, newTokenBucket(cfg, broken, nil))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"rl:user:anon:route:GET /p"}, broken.keys)
}

func TestNewTokenBucketDisabledPassesThrough(t *testing.T) {
	e := echo.New()
	protected(e, NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
