package dto

// Validatable is the constraint on request types accepted by server.Wrap.
// Validate runs after the body, path and query values are filled in; a
// returned *APIError is sent as is, anything else as VALIDATION_FAILED.
type Validatable interface {
	Validate() error
}
