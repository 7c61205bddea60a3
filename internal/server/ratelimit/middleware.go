// Provides HTTP middleware and response writers for rate limiting.

package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maruel/orgsite/internal/server/dto"
	"github.com/maruel/orgsite/internal/server/reqctx"
)

// WriteHeaders writes rate limit headers to the response.
func WriteHeaders(w http.ResponseWriter, result Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if !result.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

// Middleware enforces the matching tier per client IP. The client IP must
// already be in the request context.
func (t *Tiers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := t.Match(r.Method, r.URL.Path)
		if tier == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := reqctx.ClientIP(r.Context())
		if ip == "" {
			ip = reqctx.GetClientIP(r)
		}
		result := tier.Limiter.Allow(BuildKey(ip, tier.Name))
		WriteHeaders(w, result)
		if !result.Allowed {
			slog.WarnContext(r.Context(), "rate limited", "tier", tier.Name, "ip", ip)
			apiErr := dto.RateLimitExceeded(int(result.RetryAfter.Seconds()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(apiErr.StatusCode())
			resp := dto.ErrorResponse{
				Error:   dto.ErrorDetails{Code: apiErr.Code(), Message: apiErr.Error()},
				Details: apiErr.Details(),
			}
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				slog.ErrorContext(r.Context(), "Failed to encode error response", "err", err)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BuildKey creates a bucket key from the client identifier and tier name.
func BuildKey(identifier, tierName string) string {
	return "ip:" + identifier + ":" + tierName
}
