// Defines shared service dependencies for handlers.

package handlers

import (
	"github.com/maruel/orgsite/internal/auth"
	"github.com/maruel/orgsite/internal/history"
	"github.com/maruel/orgsite/internal/store"
)

// Services holds all service dependencies for handlers.
type Services struct {
	Registry *store.Registry
	Auth     *auth.Authenticator
	History  *history.Repo // may be nil
}
