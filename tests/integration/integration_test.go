package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/handler"
	"github.com/boddenberg/lending-bfa-go/internal/infra/events"
	"github.com/boddenberg/lending-bfa-go/internal/infra/lock"
	"github.com/boddenberg/lending-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/lending-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const seed = `
users:
  - {id: lo-1, email: lo1@lender.test, full_name: Lee Officer, app_role: Loan Officer}
  - {id: lo-2, email: lo2@lender.test, full_name: Kim Officer, app_role: Loan Officer}
  - {id: u-nia, email: nia@example.com, app_role: Borrower}
loan_officer_queue:
  - {loan_officer_id: lo-1, queue_position: 1, is_active: true}
  - {loan_officer_id: lo-2, queue_position: 2, is_active: true}
loans:
  - {id: loan-1, status: active, loan_officer_ids: [lo-1]}
`

// postgrest serves the subset of the PostgREST API the Supabase client
// uses, backed by an in-memory store.
func postgrest(t *testing.T, store *memstore.Store) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		query := r.URL.Query()
		ctx := r.Context()

		var rows []map[string]any
		var err error
		switch r.Method {
		case http.MethodGet:
			if order := query.Get("order"); order != "" {
				key, dir, _ := strings.Cut(order, ".")
				if dir == "desc" {
					key = "-" + key
				}
				err = store.List(ctx, table, key, &rows)
				break
			}
			match := map[string]any{}
			for k, vs := range query {
				if k == "limit" || k == "select" {
					continue
				}
				match[k] = filterValue(vs[0])
			}
			err = store.Filter(ctx, table, match, &rows)

		case http.MethodPost:
			var data map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&data))
			var row map[string]any
			err = store.Create(ctx, table, data, &row)
			rows = append(rows, row)

		case http.MethodPatch:
			var patch map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
			var row map[string]any
			err = store.Update(ctx, table, strings.TrimPrefix(query.Get("id"), "eq."), patch, &row)
			var nf *domain.ErrNotFound
			if errors.As(err, &nf) {
				err = nil
			} else {
				rows = append(rows, row)
			}
		}
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}))
}

func filterValue(v string) any {
	switch v {
	case "is.null":
		return nil
	case "eq.true":
		return true
	case "eq.false":
		return false
	}
	return strings.TrimPrefix(v, "eq.")
}

type harness struct {
	router    http.Handler
	auth      *service.AuthService
	store     *memstore.Store
	publisher *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.LoadSeed([]byte(seed)))
	srv := postgrest(t, store)
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	client := supabase.NewClient(
		srv.Client(), srv.URL, "anon", "service",
		resilience.NewCircuitBreaker("integration"),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxConcurrency: 8},
		logger,
	)

	metrics := observability.NewMetrics()
	publisher := &events.Recorder{}
	auth := service.NewAuthService(client, "integration-secret", logger)
	resolver := service.NewIdentityResolver(client, metrics, logger)
	assignment := service.NewAssignmentService(client, metrics, logger)
	invites := service.NewInviteService(client, resolver, publisher, lock.NewLocal(),
		service.InviteConfig{HashCost: bcrypt.MinCost}, metrics, logger)
	lending := service.NewLendingService(client, resolver, assignment, publisher, metrics, logger)

	router := handler.NewRouter(handler.Services{
		Auth:       auth,
		Identity:   resolver,
		Invites:    invites,
		Lending:    lending,
		Assignment: assignment,
		Checks:     []handler.HealthCheck{{Name: "supabase", Pinger: client}},
	}, metrics, logger)

	return &harness{router: router, auth: auth, store: store, publisher: publisher}
}

func (h *harness) call(t *testing.T, method, path, userID string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := h.auth.IssueToken(&domain.Principal{ID: userID}, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out), rec.Body.String())
	}
	return rec.Code
}

// TestIntegration_InviteToApplicationFlow drives an invited borrower from
// invite through activation to their own application over the PostgREST
// backend.
func TestIntegration_InviteToApplicationFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Officer invites a borrower.
	var invite domain.CreateInviteResponse
	require.Equal(t, http.StatusCreated,
		h.call(t, http.MethodPost, "/v1/invites", "lo-1", map[string]string{"email": "nia@example.com"}, &invite))
	require.NotEmpty(t, invite.BorrowerContactID)

	var verification domain.InviteVerification
	require.Equal(t, http.StatusOK,
		h.call(t, http.MethodGet, "/v1/invites/"+invite.InviteID+"/verify?token="+invite.Token, "", nil, &verification))
	assert.Equal(t, domain.InviteStatusPending, verification.Status)

	// Officer keys in an application for the invited contact.
	require.NoError(t, h.store.Create(ctx, domain.TableLoanApplications, map[string]any{
		"id":                       "app-keyed",
		"status":                   domain.ApplicationStatusPending,
		"created_by":               "lo-1",
		"primary_borrower_id":      invite.BorrowerContactID,
		"assigned_loan_officer_id": "lo-1",
	}, nil))

	// Other officers are not on the team.
	assert.Equal(t, http.StatusForbidden,
		h.call(t, http.MethodGet, "/v1/applications/app-keyed", "lo-2", nil, nil))

	// The borrower signs up and logs in.

	var activation domain.ActivationResult
	require.Equal(t, http.StatusOK,
		h.call(t, http.MethodPost, "/v1/invites/activate", "u-nia", nil, &activation))
	assert.Equal(t, domain.ActivationStatusActivated, activation.Status)
	assert.Equal(t, invite.BorrowerContactID, activation.BorrowerID)
	assert.Equal(t, 1, activation.RepairedApplications)

	var app domain.LoanApplication
	require.Equal(t, http.StatusOK,
		h.call(t, http.MethodGet, "/v1/applications/app-keyed", "u-nia", nil, &app))
	assert.Equal(t, "u-nia", app.PrimaryBorrowerID)

	require.Equal(t, http.StatusOK,
		h.call(t, http.MethodGet, "/v1/invites/"+invite.InviteID+"/verify?token="+invite.Token, "", nil, &verification))
	assert.Equal(t, domain.InviteStatusActivated, verification.Status)

	// The borrower's own application goes to the least-loaded officer.
	var created domain.LoanApplication
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/v1/applications", "u-nia", map[string]any{
		"loan_amount":      250000,
		"property_address": "12 Elm St",
	}, &created))
	assert.Equal(t, "lo-2", created.AssignedLoanOfficerID)

	var ids domain.AccessIDSet
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, "/v1/me/access-ids", "u-nia", nil, &ids))
	assert.Equal(t, []string{invite.BorrowerContactID}, ids.BorrowerIDs)

	assert.Equal(t, []string{
		domain.EventBorrowerInvited,
		domain.EventBorrowerActivated,
		domain.EventApplicationAssigned,
	}, h.publisher.Keys())
}

func TestIntegration_Health(t *testing.T) {
	h := newHarness(t)

	var status domain.HealthStatus
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, "/healthz", "", nil, &status))
	assert.Equal(t, "healthy", status.Status)
}
