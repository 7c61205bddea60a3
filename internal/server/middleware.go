package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/maruel/orgsite/internal/server/reqctx"
)

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// requestMetadata stores the request id, client IP, user agent and country
// in the request context. The request id is echoed back in the response.
func (s *Server) requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := reqctx.GetRequestID(r)
		ip := reqctx.GetClientIP(r)
		w.Header().Set(reqctx.RequestIDHeader, id)
		ctx := reqctx.WithRequestID(r.Context(), id)
		ctx = reqctx.WithClientIP(ctx, ip)
		ctx = reqctx.WithUserAgent(ctx, r.UserAgent())
		ctx = reqctx.WithCountryCode(ctx, s.geo.CountryCode(ip))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog logs every request once served and counts it.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.code == 0 {
			sw.code = http.StatusOK
		}
		ctx := r.Context()
		s.metrics.Request(r.Method, sw.code)
		level := slog.LevelInfo
		if sw.code >= 500 {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "http",
			"m", r.Method,
			"p", r.URL.Path,
			"s", sw.code,
			"d", time.Since(start).Round(time.Millisecond),
			"ip", reqctx.ClientIP(ctx),
			"cc", reqctx.CountryCode(ctx),
			"id", reqctx.RequestID(ctx),
		)
	})
}
