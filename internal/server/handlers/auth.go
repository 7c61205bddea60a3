// Handles admin authentication.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maruel/orgsite/internal/auth"
	"github.com/maruel/orgsite/internal/server/dto"
	"github.com/maruel/orgsite/internal/server/reqctx"
)

// AuthHandler handles authentication requests.
type AuthHandler struct {
	Svc *Services
}

// Login exchanges the admin password for a bearer token.
func (h *AuthHandler) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	token, exp, err := h.Svc.Auth.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrDisabled):
		return nil, dto.NotImplemented("Admin access")
	case errors.Is(err, auth.ErrBadPassword):
		slog.WarnContext(ctx, "failed login", "ip", reqctx.ClientIP(ctx))
		return nil, dto.NewAPIError(http.StatusUnauthorized, dto.ErrorCodeUnauthorized, "Invalid password")
	case err != nil:
		return nil, dto.InternalWithError("Failed to generate token", err)
	}
	slog.InfoContext(ctx, "admin logged in", "ip", reqctx.ClientIP(ctx))
	return &dto.LoginResponse{Token: token, ExpiresAt: exp}, nil
}
