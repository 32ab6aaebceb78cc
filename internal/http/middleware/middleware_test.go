package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v4"
)

func serve(t *testing.T, mw echo.MiddlewareFunc, tenant string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen, _ = TenantIDFromCtx(c)
		return c.NoContent(http.StatusNoContent)
	}, mw)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if tenant != "" {
		req.Header.Set(HeaderTenantID, tenant)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestTenantMiddleware(t *testing.T) {
	rec, seen := serve(t, TenantMiddleware(), " T1 ")
	if rec.Code != http.StatusNoContent || seen != "T1" {
		t.Fatalf("code = %d tenant = %q", rec.Code, seen)
	}

	if rec, _ := serve(t, TenantMiddleware(), ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing tenant = %d", rec.Code)
	}
	if rec, _ := serve(t, TenantMiddleware(), strings.Repeat("x", 65)); rec.Code != http.StatusBadRequest {
		t.Fatalf("long tenant = %d", rec.Code)
	}
}

func TestRateLimitWithoutRedisAllows(t *testing.T) {
	chain := func(next echo.HandlerFunc) echo.HandlerFunc {
		return TenantMiddleware()(RateLimitMiddleware(RateLimitConfig{RPS: 1})(next))
	}
	for i := 0; i < 3; i++ {
		if rec, _ := serve(t, chain, "T1"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
}
