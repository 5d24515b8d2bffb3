package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/commitlock/vault/pkg/attestation"
	"github.com/commitlock/vault/pkg/audit"
	"github.com/commitlock/vault/pkg/auth"
	"github.com/commitlock/vault/pkg/contracts"
	"github.com/commitlock/vault/pkg/emergency"
	"github.com/commitlock/vault/pkg/vault"
)

// maxBodyBytes caps request bodies at 1MB.
const maxBodyBytes = 1 << 20

// Handlers exposes the vault over HTTP.
type Handlers struct {
	ledger    *vault.Ledger
	attest    *attestation.Engine
	emergency *emergency.Control
	audit     *audit.Exporter
	access    *auth.AccessControl
}

// HandlersConfig wires the handler set. Ledger is required; the
// attestation engine, emergency control, and audit exporter are
// optional and their routes are registered only when configured.
type HandlersConfig struct {
	Ledger    *vault.Ledger
	Attest    *attestation.Engine
	Emergency *emergency.Control
	Audit     *audit.Exporter

	// Access gates the evidence-pack export to authorized callers.
	Access *auth.AccessControl
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		ledger:    cfg.Ledger,
		attest:    cfg.Attest,
		emergency: cfg.Emergency,
		audit:     cfg.Audit,
		access:    cfg.Access,
	}
}

// Register wires all routes onto the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /v1/commitments", h.handleCreate)
	mux.HandleFunc("GET /v1/commitments/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/commitments/{id}/violations", h.handleViolations)
	mux.HandleFunc("POST /v1/commitments/{id}/check", h.handleCheck)
	mux.HandleFunc("POST /v1/commitments/{id}/settle", h.handleSettle)
	mux.HandleFunc("POST /v1/commitments/{id}/value", h.handleUpdateValue)
	mux.HandleFunc("GET /v1/owners/{owner}/commitments", h.handleOwnerCommitments)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
	mux.HandleFunc("POST /v1/admin/emergency", h.handleEmergency)
	if h.attest != nil {
		mux.HandleFunc("POST /v1/commitments/{id}/attestations", h.handleAttest)
		mux.HandleFunc("GET /v1/commitments/{id}/health", h.handleHealthMetrics)
	}
	if h.audit != nil {
		mux.HandleFunc("GET /v1/admin/audit/export", h.handleAuditExport)
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// CreateCommitmentRequest is the body for POST /v1/commitments.
type CreateCommitmentRequest struct {
	Amount  int64                     `json:"amount"`
	AssetID string                    `json:"asset_id"`
	Rules   contracts.CommitmentRules `json:"rules"`
}

// CreateCommitmentResponse carries the new commitment id.
type CreateCommitmentResponse struct {
	CommitmentID string `json:"commitment_id"`
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, r, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CreateCommitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	id, err := h.ledger.CreateCommitment(r.Context(), caller, req.Amount, req.AssetID, req.Rules)
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, CreateCommitmentResponse{CommitmentID: id})
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.ledger.Commitment(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h *Handlers) handleViolations(w http.ResponseWriter, r *http.Request) {
	details, err := h.ledger.ViolationDetails(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// CheckViolationsResponse is the body for POST .../check.
type CheckViolationsResponse struct {
	CommitmentID string `json:"commitment_id"`
	HasViolation bool   `json:"has_violation"`
}

func (h *Handlers) handleCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	violated, err := h.ledger.CheckViolations(r.Context(), id)
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, CheckViolationsResponse{CommitmentID: id, HasViolation: violated})
}

func (h *Handlers) handleSettle(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Settle(r.Context(), r.PathValue("id")); err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// UpdateValueRequest is the body for POST .../value.
type UpdateValueRequest struct {
	NewValue int64 `json:"new_value"`
}

func (h *Handlers) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, r, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req UpdateValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	if err := h.ledger.UpdateValue(r.Context(), caller, r.PathValue("id"), req.NewValue); err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// OwnerCommitmentsResponse lists commitment ids for an owner.
type OwnerCommitmentsResponse struct {
	Owner       string   `json:"owner"`
	Commitments []string `json:"commitments"`
}

func (h *Handlers) handleOwnerCommitments(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	ids, err := h.ledger.OwnerCommitments(r.Context(), owner)
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, OwnerCommitmentsResponse{Owner: owner, Commitments: ids})
}

// StatsResponse aggregates vault-wide counters.
type StatsResponse struct {
	TotalCommitments uint64 `json:"total_commitments"`
	TotalValueLocked int64  `json:"total_value_locked"`
	EmergencyMode    bool   `json:"emergency_mode"`
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := h.ledger.TotalCommitments(r.Context())
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	tvl, err := h.ledger.TotalValueLocked(r.Context())
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	resp := StatsResponse{TotalCommitments: total, TotalValueLocked: tvl}
	if h.emergency != nil {
		resp.EmergencyMode = h.emergency.Engaged()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// EmergencyRequest toggles emergency mode.
type EmergencyRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handlers) handleEmergency(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, r, "")
		return
	}
	if h.emergency == nil {
		WriteError(w, r, http.StatusNotFound, "Not Found", "Emergency control is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req EmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	if err := h.emergency.Set(caller, req.Enabled); err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"emergency_mode": h.emergency.Engaged()})
}

// AttestRequest records an observed commitment value.
type AttestRequest struct {
	Value int64 `json:"value"`
}

func (h *Handlers) handleAttest(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, r, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req AttestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	if err := h.attest.Attest(r.Context(), caller, r.PathValue("id"), req.Value); err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handleAuditExport streams a verifiable evidence pack: a zip of the
// selected audit entries plus a manifest carrying the chain head. The
// start and end query parameters bound the sequence range; zero means
// unbounded.
func (h *Handlers) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, r, "")
		return
	}
	if h.access != nil {
		if err := h.access.RequireAuthorized(caller); err != nil {
			WriteVaultError(w, r, err)
			return
		}
	}

	var req audit.ExportRequest
	if v := r.URL.Query().Get("start"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteBadRequest(w, r, "Invalid start sequence")
			return
		}
		req.StartSeq = seq
	}
	if v := r.URL.Query().Get("end"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteBadRequest(w, r, "Invalid end sequence")
			return
		}
		req.EndSeq = seq
	}

	pack, checksum, err := h.audit.GeneratePack(req)
	if err != nil {
		if err == audit.ErrInvalidRange {
			WriteBadRequest(w, r, err.Error())
			return
		}
		WriteVaultError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-pack.zip"`)
	w.Header().Set("X-Checksum", checksum)
	_, _ = w.Write(pack)
}

func (h *Handlers) handleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.attest.HealthMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteVaultError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, metrics)
}
