package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commitlock/vault/pkg/assets"
	"github.com/commitlock/vault/pkg/attestation"
	"github.com/commitlock/vault/pkg/audit"
	"github.com/commitlock/vault/pkg/auth"
	"github.com/commitlock/vault/pkg/certificate"
	"github.com/commitlock/vault/pkg/contracts"
	"github.com/commitlock/vault/pkg/emergency"
	"github.com/commitlock/vault/pkg/store"
	"github.com/commitlock/vault/pkg/vault"
)

type apiEnv struct {
	handler http.Handler
	tokens  *auth.TokenManager
	now     time.Time
	ledger  *vault.Ledger
}

func (e *apiEnv) token(t *testing.T, account string) string {
	t.Helper()
	token, err := e.tokens.Issue(account)
	require.NoError(t, err)
	return token
}

func (e *apiEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	env := &apiEnv{
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		tokens: auth.NewTokenManager([]byte("test-secret"), "vault-test", time.Hour),
	}

	ledger := assets.NewLedger()
	ledger.Mint("USDC", "alice", 10_000)

	access := auth.NewAccessControl()
	require.NoError(t, access.Initialize("admin"))
	control := emergency.NewControl("admin")

	auditLog := audit.NewLog()
	v, err := vault.New(vault.Config{
		Store:        store.NewMemoryStore(),
		Assets:       ledger,
		Certificates: certificate.NewRegistry(),
		Access:       access,
		Emergency:    control,
		Emitters:     []vault.Emitter{auditLog},
		VaultAccount: "vault-escrow",
	})
	require.NoError(t, err)
	env.ledger = v.WithClock(func() time.Time { return env.now })

	engine := attestation.NewEngine(env.ledger, access)
	srv := NewServer(ServerConfig{
		Addr: ":0",
		Handlers: NewHandlers(HandlersConfig{
			Ledger:    env.ledger,
			Attest:    engine,
			Emergency: control,
			Audit:     audit.NewExporter(auditLog),
			Access:    access,
		}),
		Authenticator: NewAuthenticator(env.tokens),
	})
	env.handler = srv.Handler
	return env
}

func createBody() CreateCommitmentRequest {
	return CreateCommitmentRequest{
		Amount:  1_000,
		AssetID: "USDC",
		Rules: contracts.CommitmentRules{
			DurationDays:   30,
			MaxLossPercent: 10,
			CommitmentType: contracts.TypeBalanced,
		},
	}
}

func TestHealthzIsPublic(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = env.do(t, http.MethodGet, "/v1/stats", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateCommitmentEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice")

	rec := env.do(t, http.MethodPost, "/v1/commitments", token, createBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateCommitmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "commitment-1", resp.CommitmentID)

	// The record is readable back.
	rec = env.do(t, http.MethodGet, "/v1/commitments/commitment-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c contracts.Commitment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "alice", c.Owner)
	assert.Equal(t, int64(1_000), c.Principal)
}

func TestCreateCommitmentValidationError(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice")

	body := createBody()
	body.Amount = -5
	rec := env.do(t, http.MethodPost, "/v1/commitments", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.NotEmpty(t, problem.RequestID)
}

func TestGetCommitmentNotFound(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/commitments/commitment-9", env.token(t, "alice"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViolationsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice")
	admin := env.token(t, "admin")

	rec := env.do(t, http.MethodPost, "/v1/commitments", token, createBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/value", admin,
		UpdateValueRequest{NewValue: 850})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/commitments/commitment-1/violations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details contracts.ViolationDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	assert.True(t, details.HasViolation)
	assert.True(t, details.LossViolated)
	assert.Equal(t, int64(15), details.LossPercent)

	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/check", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var check CheckViolationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.True(t, check.HasViolation)
}

func TestSettleEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice")

	rec := env.do(t, http.MethodPost, "/v1/commitments", token, createBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	// Not yet mature.
	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/settle", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.now = env.now.Add(31 * 24 * time.Hour)
	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/settle", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Settling twice is a conflict.
	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/settle", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateValueForbiddenForNonAdmin(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice")

	rec := env.do(t, http.MethodPost, "/v1/commitments", token, createBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/value", token,
		UpdateValueRequest{NewValue: 900})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOwnerCommitmentsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice")

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/v1/commitments", token, createBody())
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/owners/alice/commitments", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OwnerCommitmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"commitment-1", "commitment-2"}, resp.Commitments)

	rec = env.do(t, http.MethodGet, "/v1/owners/nobody/commitments", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Commitments)
}

func TestStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, "alice")

	rec := env.do(t, http.MethodPost, "/v1/commitments", token, createBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.TotalCommitments)
	assert.Equal(t, int64(1_000), stats.TotalValueLocked)
	assert.False(t, stats.EmergencyMode)
}

func TestEmergencyEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	admin := env.token(t, "admin")
	alice := env.token(t, "alice")

	// Non-admin cannot toggle.
	rec := env.do(t, http.MethodPost, "/v1/admin/emergency", alice, EmergencyRequest{Enabled: true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/emergency", admin, EmergencyRequest{Enabled: true})
	require.Equal(t, http.StatusOK, rec.Code)

	// Mutations are refused while paused.
	rec = env.do(t, http.MethodPost, "/v1/commitments", alice, createBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/emergency", admin, EmergencyRequest{Enabled: false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/commitments", alice, createBody())
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAttestationEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	alice := env.token(t, "alice")
	admin := env.token(t, "admin")

	rec := env.do(t, http.MethodPost, "/v1/commitments", alice, createBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	// Only authorized verifiers may attest.
	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/attestations", alice,
		AttestRequest{Value: 950})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/commitments/commitment-1/attestations", admin,
		AttestRequest{Value: 950})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/commitments/commitment-1/health", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics attestation.HealthMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, int64(1_000), metrics.InitialValue)
	assert.False(t, metrics.LastAttestation.IsZero())
}

func TestAuditExportEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	alice := env.token(t, "alice")
	admin := env.token(t, "admin")

	rec := env.do(t, http.MethodPost, "/v1/commitments", alice, createBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	// Only authorized callers may pull evidence packs.
	rec = env.do(t, http.MethodGet, "/v1/admin/audit/export", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/admin/audit/export", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Checksum"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/v1/admin/audit/export?start=5&end=2", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/admin/audit/export?start=oops", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProblemDetailShape(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/commitments/commitment-9", env.token(t, "alice"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, fmt.Sprintf("https://commitlock.dev/errors/%d", http.StatusNotFound), problem.Type)
	assert.Equal(t, "/v1/commitments/commitment-9", problem.Instance)
	assert.NotEmpty(t, problem.RequestID)
}
