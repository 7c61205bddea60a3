// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/maruel/orgsite/internal/config"
)

// Tier is a named limiter. A nil *Tier means unlimited.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Tiers holds the limiters of each class of request.
type Tiers struct {
	Auth  *Tier
	Write *Tier
	Read  *Tier
}

// New builds the tiers from the configured per minute rates. A rate of 0
// disables the tier.
func New(rl config.RateLimits) *Tiers {
	return &Tiers{
		Auth:  newTier("auth", rl.AuthRatePerMin, rl.AuthRatePerMin),
		Write: newTier("write", rl.WriteRatePerMin, max(rl.WriteRatePerMin/6, 1)),
		Read:  newTier("read", rl.ReadRatePerMin, max(rl.ReadRatePerMin/6, 1)),
	}
}

func newTier(name string, perMin, burst int) *Tier {
	if perMin <= 0 {
		return nil
	}
	return &Tier{Name: name, Limiter: NewLimiter(perMin, time.Minute, burst)}
}

// Match returns the tier for a request, or nil when it is not limited.
func (t *Tiers) Match(method, path string) *Tier {
	if t == nil {
		return nil
	}
	switch {
	case path == "/api/health" || path == "/metrics":
		return nil
	case method == http.MethodPost && path == "/api/auth/login":
		return t.Auth
	case method == http.MethodGet || method == http.MethodHead:
		if !strings.HasPrefix(path, "/api/") {
			// Static assets.
			return nil
		}
		return t.Read
	default:
		return t.Write
	}
}

// Close stops every limiter.
func (t *Tiers) Close() {
	if t == nil {
		return
	}
	for _, tier := range []*Tier{t.Auth, t.Write, t.Read} {
		if tier != nil {
			tier.Limiter.Close()
		}
	}
}
