package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/eduvault/internal/config"
)

// cachedResponse is what a cache entry holds.  Body is base64 in JSON.
type cachedResponse struct {
	Status int         `json:"s"`
	Header http.Header `json:"h"`
	Body   []byte      `json:"b"`
}

// recorder copies what the handler writes, up to max bytes, while passing
// it through to the client.  overflow is set once the body outgrows max.
type recorder struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	max      int
	overflow bool
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.overflow {
		if r.max > 0 && r.body.Len()+len(b) > r.max {
			r.overflow = true
			r.body.Reset()
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

// cacheKey hashes the parts of the request the strategy names.  Strategies
// starting with "user" include the caller, which any response that depends
// on who is asking needs.  Query parameters are sorted first.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	query := r.URL.Query().Encode()

	var id string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		id = c.Path()
	case "route_query":
		id = c.Path() + "?" + query
	case "method_route_query":
		id = r.Method + " " + c.Path() + "?" + query
	case "user_route":
		id = currentUserID(c) + "@" + c.Path()
	default:
		id = currentUserID(c) + "@" + c.Path() + "?" + query
	}
	sum := sha256.Sum256([]byte(id))
	return cfg.Prefix + ":" + hex.EncodeToString(sum[:16])
}

// NewRedisCache serves repeated requests for the configured methods from
// Redis.  Only 200 responses no larger than MaxBodyBytes are stored; the
// X-Cache header tells HIT from MISS.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKey(cfg, c)

			if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
				var hit cachedResponse
				if json.Unmarshal(raw, &hit) == nil {
					return replay(c, hit)
				}
			}

			rec := &recorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, max: cfg.MaxBodyBytes}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}

			entry := cachedResponse{Status: rec.status, Header: c.Response().Header().Clone(), Body: rec.body.Bytes()}
			entry.Header.Del("X-Cache")
			entry.Header.Del(echo.HeaderContentLength)
			entry.Header.Del(echo.HeaderXRequestID)
			if raw, err := json.Marshal(entry); err == nil {
				_ = rdb.Set(context.WithoutCancel(ctx), key, raw, ttl).Err()
			}
			return nil
		}
	}
}

func replay(c echo.Context, hit cachedResponse) error {
	h := c.Response().Header()
	for k, vs := range hit.Header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set("X-Cache", "HIT")
	c.Response().WriteHeader(hit.Status)
	_, err := c.Response().Write(hit.Body)
	return err
}
