// Package api exposes the vault's operations over HTTP with RFC 7807
// Problem Detail error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/commitlock/vault/pkg/attestation"
	"github.com/commitlock/vault/pkg/auth"
	"github.com/commitlock/vault/pkg/emergency"
	"github.com/commitlock/vault/pkg/vault"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// RequestID links to the request that produced the error.
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:      fmt.Sprintf("https://commitlock.dev/errors/%d", status),
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: w.Header().Get(requestIDHeader),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteVaultError maps the ledger's error taxonomy onto HTTP statuses.
func WriteVaultError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidDuration),
		errors.Is(err, vault.ErrInvalidMaxLoss),
		errors.Is(err, vault.ErrInvalidCommitmentType),
		errors.Is(err, vault.ErrAssetNotSupported),
		errors.Is(err, vault.ErrExpiryOverflow):
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, vault.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, vault.ErrAlreadyExists),
		errors.Is(err, vault.ErrNotActive),
		errors.Is(err, vault.ErrNotExpired),
		errors.Is(err, vault.ErrAlreadySettled),
		errors.Is(err, vault.ErrReentrancy):
		WriteError(w, r, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, vault.ErrUnauthorized),
		errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, attestation.ErrUnauthorized),
		errors.Is(err, emergency.ErrUnauthorized):
		WriteError(w, r, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, vault.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", err.Error())
	case errors.Is(err, vault.ErrEmergency):
		WriteError(w, r, http.StatusServiceUnavailable, "Service Unavailable", err.Error())
	case errors.Is(err, vault.ErrNotImplemented):
		WriteError(w, r, http.StatusNotImplemented, "Not Implemented", err.Error())
	default:
		WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", err.Error())
	}
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteJSON writes a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
