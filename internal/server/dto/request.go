// Defines API request types with validation.

package dto

import (
	"encoding/json"
)

// --- Health ---

// HealthRequest is a request to check system health.
type HealthRequest struct{}

// Validate is a no-op for HealthRequest.
func (r *HealthRequest) Validate() error {
	return nil
}

// --- Auth ---

// LoginRequest exchanges the admin password for a token.
type LoginRequest struct {
	Password string `json:"password"`
}

// Validate validates the login request fields.
func (r *LoginRequest) Validate() error {
	if r.Password == "" {
		return MissingField("password")
	}
	return nil
}

// --- Collections ---

// ListRecordsRequest is a request to list the records of a collection.
type ListRecordsRequest struct {
	Collection string `path:"name"`
}

// Validate validates the list records request fields.
func (r *ListRecordsRequest) Validate() error {
	if r.Collection == "" {
		return MissingField("name")
	}
	return nil
}

// GetRecordRequest is a request to get one record.
type GetRecordRequest struct {
	Collection string `path:"name"`
	ID         string `path:"id"`
}

// Validate validates the get record request fields.
func (r *GetRecordRequest) Validate() error {
	return validateRecordPath(r.Collection, r.ID)
}

// CreateRecordRequest creates a record. The body is the record payload itself.
type CreateRecordRequest struct {
	Collection string `path:"name"`
	Body       json.RawMessage
}

// UnmarshalJSON keeps the body verbatim; the collection's codec decodes it.
func (r *CreateRecordRequest) UnmarshalJSON(b []byte) error {
	r.Body = append(json.RawMessage(nil), b...)
	return nil
}

// Validate validates the create record request fields.
func (r *CreateRecordRequest) Validate() error {
	if r.Collection == "" {
		return MissingField("name")
	}
	if len(r.Body) == 0 {
		return BadRequest("Empty record")
	}
	return nil
}

// UpdateRecordRequest replaces a record. The body is the record payload itself.
type UpdateRecordRequest struct {
	Collection string `path:"name"`
	ID         string `path:"id"`
	Body       json.RawMessage
}

// UnmarshalJSON keeps the body verbatim; the collection's codec decodes it.
func (r *UpdateRecordRequest) UnmarshalJSON(b []byte) error {
	r.Body = append(json.RawMessage(nil), b...)
	return nil
}

// Validate validates the update record request fields.
func (r *UpdateRecordRequest) Validate() error {
	if err := validateRecordPath(r.Collection, r.ID); err != nil {
		return err
	}
	if len(r.Body) == 0 {
		return BadRequest("Empty record")
	}
	return nil
}

// DeleteRecordRequest is a request to delete one record.
type DeleteRecordRequest struct {
	Collection string `path:"name"`
	ID         string `path:"id"`
}

// Validate validates the delete record request fields.
func (r *DeleteRecordRequest) Validate() error {
	return validateRecordPath(r.Collection, r.ID)
}

func validateRecordPath(collection, id string) error {
	if collection == "" {
		return MissingField("name")
	}
	if id == "" {
		return MissingField("id")
	}
	return nil
}

// --- Roster ---

// GetRosterRequest is a request for the team and faculty lists.
type GetRosterRequest struct{}

// Validate is a no-op for GetRosterRequest.
func (r *GetRosterRequest) Validate() error {
	return nil
}

// ReplaceRosterRequest replaces the team and faculty lists. An absent list is
// left untouched.
type ReplaceRosterRequest struct {
	Team    []json.RawMessage `json:"team"`
	Faculty []json.RawMessage `json:"faculty"`
}

// Validate validates the replace roster request fields.
func (r *ReplaceRosterRequest) Validate() error {
	if r.Team == nil && r.Faculty == nil {
		return BadRequest("At least one of team or faculty is required")
	}
	return nil
}

// --- Schema ---

// SchemaRequest is a request for the JSON schema of a collection.
type SchemaRequest struct {
	Collection string `path:"name"`
}

// Validate validates the schema request fields.
func (r *SchemaRequest) Validate() error {
	if r.Collection == "" {
		return MissingField("name")
	}
	return nil
}

// --- History ---

// HistoryRequest is a request for the recent changes.
type HistoryRequest struct {
	// Path restricts the history to a file or directory, e.g. "db/events.jsonl".
	Path  string `query:"path"`
	Limit int    `query:"limit"`
}

// Validate validates the history request fields.
func (r *HistoryRequest) Validate() error {
	if r.Limit < 0 {
		return BadRequest("limit must be non-negative")
	}
	return nil
}
