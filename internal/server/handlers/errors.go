// Maps domain errors to API errors and writes error responses.

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maruel/orgsite/internal/assets"
	"github.com/maruel/orgsite/internal/records"
	"github.com/maruel/orgsite/internal/server/dto"
	"github.com/maruel/orgsite/internal/store"
)

// apiError converts an error returned by the store or the asset manager into
// an error carrying its HTTP status.
func apiError(err error) error {
	if err == nil {
		return nil
	}
	var ews dto.ErrorWithStatus
	if errors.As(err, &ews) {
		return err
	}
	var verr *records.ValidationError
	var nf *store.NotFoundError
	var werr *assets.WriteError
	var perr *store.PersistenceError
	switch {
	case errors.As(err, &verr):
		details := make(map[string]any, len(verr.Fields))
		for k, v := range verr.Fields {
			details[k] = v
		}
		return dto.BadRequest(verr.Error()).WithDetails(details)
	case errors.Is(err, assets.ErrTooLarge), errors.Is(err, assets.ErrInvalidCategory):
		return dto.BadRequest(err.Error())
	case errors.As(err, &nf):
		return dto.NewAPIError(http.StatusNotFound, dto.ErrorCodeNotFound, nf.Error())
	case errors.As(err, &werr):
		return dto.NewAPIError(http.StatusInternalServerError, dto.ErrorCodeAssetWriteError, "Failed to write asset").Wrap(err)
	case errors.As(err, &perr):
		return dto.NewAPIError(http.StatusInternalServerError, dto.ErrorCodeStorageError, "Failed to persist "+perr.Collection).Wrap(err)
	default:
		return dto.InternalWithError("Internal error", err)
	}
}

// writeErrorResponse writes an error as a JSON response.
// Use this in raw http.HandlerFunc handlers that don't use server.Wrap.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := http.StatusInternalServerError
	errorCode := dto.ErrorCodeInternal
	message := "internal error"
	var details map[string]any

	var ews dto.ErrorWithStatus
	if errors.As(apiError(err), &ews) {
		statusCode = ews.StatusCode()
		errorCode = ews.Code()
		message = ews.Error()
		details = ews.Details()
	}
	if statusCode >= 500 {
		slog.ErrorContext(r.Context(), "Handler error", "err", err, "statusCode", statusCode, "code", errorCode)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: errorCode, Message: message},
		Details: details,
	}
	if len(response.Details) == 0 {
		response.Details = nil
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode error response", "err", err)
	}
}
