package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/warden/internal/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints (5 requests per minute)
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 5,
		Window:   time.Minute,
	}
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	def := DefaultAuthRateLimit()
	if c.Requests <= 0 {
		c.Requests = def.Requests
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	return c
}

// RateLimitByIP limits unauthenticated endpoints per client IP. The IP is
// resolved with ipConfig so spoofed forwarding headers share the caller's
// bucket.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	config = config.normalized()
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByAccount limits authenticated endpoints per account, falling
// back to the client IP when no claims are present.
func RateLimitByAccount(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	config = config.normalized()
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
				return "account:" + claims.AccountID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, _ *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests")
}
