// Package httpkit holds the gin middleware and response helpers shared by
// the pipeline's HTTP modules.
package httpkit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

const (
	headerRequestID = "X-Request-ID"

	errMissingToken = "missing token"
	errInvalidToken = "invalid token"

	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeRateLimited  = "RATE_LIMITED"
)

// RequestLogger logs one line per request after the handler chain ran.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		reqLog := log.WithContext(c.Request.Context())
		if len(c.Errors) > 0 && status >= http.StatusInternalServerError {
			reqLog.HTTPError(c.Request.Method, path, status, c.Errors.Last(), c.ClientIP())
			return
		}
		reqLog.HTTPRequest(c.Request.Method, path, status, float64(time.Since(start).Milliseconds()), c.ClientIP())
	}
}

// SecurityHeaders sets headers for a JSON API that is never framed or
// rendered as a document.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		if c.Request.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// RequestID propagates or assigns X-Request-ID and puts it on the request
// context for the logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIDKey, id))
		c.Next()
	}
}

// CallerRateLimiter keeps one token bucket per caller key.
type CallerRateLimiter struct {
	buckets sync.Map
	rate    rate.Limit
	burst   int
	key     func(*gin.Context) string
	log     *logger.Logger
}

// NewIPRateLimiter limits by client IP.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *CallerRateLimiter {
	return &CallerRateLimiter{rate: r, burst: burst, key: func(c *gin.Context) string { return c.ClientIP() }, log: log}
}

// NewAdminRateLimiter allows 6 requests per minute per authenticated admin,
// enough for manual maintenance triggers but not for loops against them.
func NewAdminRateLimiter(log *logger.Logger) *CallerRateLimiter {
	return &CallerRateLimiter{
		rate:  rate.Limit(6.0 / 60.0),
		burst: 6,
		key: func(c *gin.Context) string {
			if a, ok := ActorFrom(c); ok {
				return "user:" + a.UserID.String()
			}
			return "ip:" + c.ClientIP()
		},
		log: log,
	}
}

func (l *CallerRateLimiter) bucket(key string) *rate.Limiter {
	if b, ok := l.buckets.Load(key); ok {
		return b.(*rate.Limiter)
	}
	b, _ := l.buckets.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return b.(*rate.Limiter)
}

// RateLimit rejects requests over budget with 429.
func (l *CallerRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := l.key(c)
		if !l.bucket(key).Allow() {
			if l.log != nil {
				l.log.RateLimitExceeded(key, c.Request.URL.Path)
			}
			abortStatus(c, http.StatusTooManyRequests, "rate limit exceeded", codeRateLimited)
			return
		}
		c.Next()
	}
}

// AuthRequired validates an HS256 access token and stores the Actor. The
// token comes from the Authorization header; GET requests may pass it as
// ?token= because EventSource cannot set headers.
func AuthRequired(cfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok && c.Request.Method == http.MethodGet {
			raw = c.Query("token")
			ok = raw != ""
		}
		if !ok {
			abortStatus(c, http.StatusUnauthorized, errMissingToken, codeUnauthorized)
			return
		}

		actor, err := parseActor(raw, cfg.GetJWTAccessSecret())
		if err != nil {
			abortStatus(c, http.StatusUnauthorized, errInvalidToken, codeUnauthorized)
			return
		}
		SetActor(c, actor)
		c.Next()
	}
}

// RequireRole lets the request through only when the actor has role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := ActorFrom(c)
		if !ok || !a.HasRole(role) {
			abortStatus(c, http.StatusForbidden, "forbidden", codeForbidden)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	raw, found := strings.CutPrefix(header, "Bearer ")
	raw = strings.TrimSpace(raw)
	return raw, found && raw != ""
}

func parseActor(raw, secret string) (*Actor, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["type"].(string); typ != "access" {
		return nil, errors.New("not an access token")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, err
	}
	return &Actor{UserID: id, Roles: roles(claims["roles"])}, nil
}

func roles(v any) []string {
	switch typed := v.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(typed)
	}
	return nil
}
