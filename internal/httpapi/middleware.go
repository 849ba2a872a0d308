package httpapi

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

type ctxKey int

const (
	playerKey ctxKey = iota
	adminKey
)

const (
	HeaderPlayerID   = "X-Player-Id"
	HeaderAdminToken = "X-Admin-Token"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack keeps websocket upgrades working behind the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// identityMiddleware reads the session layer's headers. The admin flag is
// only set when the configured token matches.
func identityMiddleware(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := strings.TrimSpace(r.Header.Get(HeaderPlayerID)); id != "" {
				ctx = context.WithValue(ctx, playerKey, id)
			}
			if adminToken != "" {
				got := r.Header.Get(HeaderAdminToken)
				if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) == 1 {
					ctx = context.WithValue(ctx, adminKey, true)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if playerID(r) == "" {
			respondError(w, http.StatusUnauthorized, chessdto.CodeUnauthorized, "missing "+HeaderPlayerID)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r) {
			respondError(w, http.StatusUnauthorized, chessdto.CodeUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func playerID(r *http.Request) string {
	id, _ := r.Context().Value(playerKey).(string)
	return id
}

func isAdmin(r *http.Request) bool {
	ok, _ := r.Context().Value(adminKey).(bool)
	return ok
}
