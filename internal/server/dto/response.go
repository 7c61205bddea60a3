// Defines API response types.

package dto

import (
	"encoding/json"
	"time"
)

// --- Health Responses ---

// HealthResponse is a response from a health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// --- Auth Responses ---

// LoginResponse carries the admin bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// --- Collection Responses ---

// ListRecordsResponse lists the records of a collection in insertion order.
type ListRecordsResponse struct {
	Collection string            `json:"collection"`
	Records    []json.RawMessage `json:"records"`
}

// RosterResponse holds the team and faculty lists.
type RosterResponse struct {
	Team    []json.RawMessage `json:"team"`
	Faculty []json.RawMessage `json:"faculty"`
}

// --- Asset Responses ---

// UploadAssetResponse is returned after storing an asset.
type UploadAssetResponse struct {
	// Path is the asset reference to put in a record.
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// --- History Responses ---

// CommitResponse is one entry of the change history.
type CommitResponse struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// HistoryResponse lists recent changes, newest first.
type HistoryResponse struct {
	Commits []CommitResponse `json:"commits"`
}
