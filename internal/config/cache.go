package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CacheConfig defines settings for the response cache middleware used on
// the faculty search endpoint.  Results depend on the caller's institution,
// so the default key strategy includes the authenticated account.
// When Enabled is false or no Redis client is configured, caching is off.
type CacheConfig struct {
	Enabled      bool   `env:"CACHE_ENABLED" envDefault:"true"`
	RawMethods   string `env:"CACHE_METHODS" envDefault:"GET"`
	Methods      map[string]bool
	TTL          time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	KeyStrategy  string        `env:"CACHE_KEY_STRATEGY" envDefault:"user_route_query"`
	Prefix       string        `env:"CACHE_PREFIX" envDefault:"cache"`
	MaxBodyBytes int           `env:"CACHE_MAX_BODY_BYTES" envDefault:"262144"`
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// All methods are upper-cased.
func LoadCacheConfig() CacheConfig {
	var c CacheConfig
	if err := env.Parse(&c); err != nil {
		c = CacheConfig{Enabled: false, RawMethods: "GET", TTL: 30 * time.Second, KeyStrategy: "user_route_query", Prefix: "cache"}
	}
	c.Methods = parseMethods(c.RawMethods)
	return c
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
