package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/eduvault/internal/config"
	"github.com/iliyamo/eduvault/internal/logging"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/service"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTokenBucketBlocksAfterCapacity(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 3, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: 2 * time.Hour, KeyStrategy: "ip_route", Prefix: "rl-test",
	}
	e := echo.New()
	e.POST("/student/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, rdb, logging.Discard()))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/student/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := serve(e, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(2-i) {
			t.Fatalf("request %d: remaining %q", i, got)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/student/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := serve(e, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", rec.Code)
	}
	if ra, _ := strconv.Atoi(rec.Header().Get("Retry-After")); ra <= 0 {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	other := httptest.NewRequest(http.MethodPost, "/student/login", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	if rec := serve(e, other); rec.Code != http.StatusNoContent {
		t.Fatalf("other client limited: %d", rec.Code)
	}
}

func TestTokenBucketFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour, TTL: time.Hour, Prefix: "rl"}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, logging.Discard()))
	for i := 0; i < 3; i++ {
		if rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)); rec.Code != http.StatusOK {
			t.Fatalf("request %d with redis down: %d", i, rec.Code)
		}
	}
}

func TestRedisCachePerUser(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := config.CacheConfig{
		Enabled: true, Methods: map[string]bool{http.MethodGet: true}, TTL: time.Minute,
		KeyStrategy: "user_route_query", Prefix: "cache-test", MaxBodyBytes: 1 << 16,
	}
	calls := 0
	e := echo.New()
	e.GET("/faculty/search", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, map[string]any{"user": AccountID(c), "q": c.QueryParam("name"), "n": calls})
	}, asUser, NewRedisCache(cfg, rdb))

	get := func(user, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/faculty/search?"+query, nil)
		req.Header.Set("X-Test-User", user)
		return serve(e, req)
	}

	first := get("u1", "name=ada&x=1")
	if first.Header().Get("X-Cache") != "MISS" || calls != 1 {
		t.Fatalf("first: X-Cache=%q calls=%d", first.Header().Get("X-Cache"), calls)
	}
	second := get("u1", "x=1&name=ada")
	if second.Header().Get("X-Cache") != "HIT" || calls != 1 {
		t.Fatalf("second: X-Cache=%q calls=%d", second.Header().Get("X-Cache"), calls)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("cached body %q != %q", second.Body.String(), first.Body.String())
	}
	if ct := second.Header().Get(echo.HeaderContentType); ct != echo.MIMEApplicationJSON && ct != echo.MIMEApplicationJSONCharsetUTF8 {
		t.Fatalf("content type not replayed: %q", ct)
	}
	if rec := get("u2", "name=ada&x=1"); rec.Header().Get("X-Cache") != "MISS" || calls != 2 {
		t.Fatalf("other user served from cache: X-Cache=%q calls=%d", rec.Header().Get("X-Cache"), calls)
	}
}

func TestRedisCacheKeepsRequestID(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{http.MethodGet: true}, TTL: time.Minute, Prefix: "rid"}
	e := echo.New()
	e.GET("/faculty/search", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"q": c.QueryParam("name")})
	}, asUser, echomw.RequestID(), NewRedisCache(cfg, rdb))

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/faculty/search?name=ada", nil)
		req.Header.Set("X-Test-User", "u1")
		return serve(e, req)
	}
	first, second := get(), get()
	if second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second: X-Cache=%q", second.Header().Get("X-Cache"))
	}
	id1, id2 := first.Header().Get(echo.HeaderXRequestID), second.Header().Get(echo.HeaderXRequestID)
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("request ids: first=%q second=%q", id1, id2)
	}
	if vs := second.Header().Values(echo.HeaderXRequestID); len(vs) != 1 {
		t.Fatalf("request id header values = %v", vs)
	}
}

func TestRedisCacheSkipsErrors(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{http.MethodGet: true}, TTL: time.Minute, Prefix: "c"}
	calls := 0
	e := echo.New()
	e.GET("/x", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusBadRequest, map[string]string{"m": "bad"})
	}, NewRedisCache(cfg, rdb))
	serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)); rec.Header().Get("X-Cache") == "HIT" || calls != 2 {
		t.Fatalf("non-200 response cached: calls=%d", calls)
	}
}

func asUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if u := c.Request().Header.Get("X-Test-User"); u != "" {
			setIdentity(c, service.Claims{AccountID: u, Role: model.RoleStudent})
		}
		return next(c)
	}
}

type stubAuth map[string]service.Claims

func (s stubAuth) Authenticate(tok string) (service.Claims, error) {
	cl, ok := s[tok]
	if !ok {
		return service.Claims{}, errors.New("bad token")
	}
	return cl, nil
}

func TestJWTAuthAndRole(t *testing.T) {
	auth := stubAuth{
		"stud-token": {AccountID: "s1", Role: model.RoleStudent},
		"fac-token":  {AccountID: "f1", Role: model.RoleFaculty},
	}
	e := echo.New()
	e.GET("/certification/pending", func(c echo.Context) error {
		return c.String(http.StatusOK, AccountID(c)+":"+string(Role(c)))
	}, JWTAuth(auth), RequireRole(model.RoleFaculty))

	tests := []struct {
		name   string
		cookie string
		header string
		status int
		body   string
	}{
		{"no token", "", "", http.StatusUnauthorized, ""},
		{"bad token", "", "Bearer nope", http.StatusUnauthorized, ""},
		{"wrong role", "stud-token", "", http.StatusForbidden, ""},
		{"bearer header", "", "Bearer fac-token", http.StatusOK, "f1:faculty"},
		{"cookie wins over header", "fac-token", "Bearer stud-token", http.StatusOK, "f1:faculty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/certification/pending", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AccessCookie, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := serve(e, req)
			if rec.Code != tt.status {
				t.Fatalf("status %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("body %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestCacheKeyIgnoresQueryOrder(t *testing.T) {
	cfg := config.CacheConfig{KeyStrategy: "route_query", Prefix: "p"}
	e := echo.New()
	key := func(target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/faculty/search")
		return cacheKey(cfg, c)
	}
	if key("/faculty/search?a=1&b=2") != key("/faculty/search?b=2&a=1") {
		t.Fatal("query order changes the key")
	}
	if key("/faculty/search?a=1") == key("/faculty/search?a=2") {
		t.Fatal("different queries share a key")
	}
}
