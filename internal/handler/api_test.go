package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/handler"
	"github.com/boddenberg/lending-bfa-go/internal/infra/events"
	"github.com/boddenberg/lending-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/port"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const apiSeed = `
users:
  - {id: u-jane, email: jane@example.com, app_role: Borrower}
  - {id: u-co, email: co@example.com, app_role: borrower}
  - {id: lo-1, email: lo1@lender.test, full_name: Lee Officer, app_role: loan_officer}
  - {id: lo-2, email: lo2@lender.test, full_name: Kim Officer, app_role: Loan Officer}
  - {id: adm, email: admin@lender.test, role: admin}
loan_officer_queue:
  - {loan_officer_id: lo-1, queue_position: 1, is_active: true}
  - {loan_officer_id: lo-2, queue_position: 2, is_active: true}
borrower_contacts:
  - {id: bc1, user_id: u-co, email: co@example.com}
  - {id: bc-jane, email: jane@example.com, is_invite_temp: true}
loan_applications:
  - id: app-1
    status: pending
    created_by: lo-1
    primary_borrower_id: bc-jane
    assigned_loan_officer_id: lo-1
    co_borrowers:
      - {borrower_id: bc1}
loans:
  - {id: loan-1, status: active, loan_officer_ids: [lo-1]}
`

type api struct {
	router http.Handler
	auth   *service.AuthService
	store  *memstore.Store
}

func newAPI(t *testing.T, wrap func(port.RecordStore) port.RecordStore) *api {
	t.Helper()
	mem := memstore.New()
	require.NoError(t, mem.LoadSeed([]byte(apiSeed)))

	var store port.RecordStore = mem
	if wrap != nil {
		store = wrap(mem)
	}

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	publisher := &events.Recorder{}
	auth := service.NewAuthService(store, "test-secret", logger)
	resolver := service.NewIdentityResolver(store, metrics, logger)
	assignment := service.NewAssignmentService(store, metrics, logger)
	invites := service.NewInviteService(store, resolver, publisher, nil, service.InviteConfig{HashCost: bcrypt.MinCost}, metrics, logger)
	lending := service.NewLendingService(store, resolver, assignment, publisher, metrics, logger)

	router := handler.NewRouter(handler.Services{
		Auth:       auth,
		Identity:   resolver,
		Invites:    invites,
		Lending:    lending,
		Assignment: assignment,
		Checks:     []handler.HealthCheck{{Name: "store", Pinger: mem}},
	}, metrics, logger)

	return &api{router: router, auth: auth, store: mem}
}

func (a *api) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := a.auth.IssueToken(&domain.Principal{ID: userID}, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestAuth_MissingAndMalformedToken(t *testing.T) {
	a := newAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/v1/me/access-ids", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, decodeBody[map[string]string](t, rec)["error"])

	req := httptest.NewRequest(http.MethodGet, "/v1/me/access-ids", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccessIDs(t *testing.T) {
	a := newAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/v1/me/access-ids", "u-co", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	ids := decodeBody[domain.AccessIDSet](t, rec)
	assert.Equal(t, "u-co", ids.AccountID)
	assert.Equal(t, []string{"bc1"}, ids.BorrowerIDs)
	assert.Equal(t, []string{}, ids.PartnerIDs)
}

func TestGetApplication_StatusCodes(t *testing.T) {
	a := newAPI(t, nil)

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/applications/app-1", "u-co", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/applications/app-1", "lo-1", nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/v1/applications/app-1", "lo-2", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/applications/nope", "u-co", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/loans/loan-1", "adm", nil).Code)
}

func TestMembership(t *testing.T) {
	a := newAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/v1/applications/app-1/membership", "u-co", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[domain.MembershipResult](t, rec)
	assert.True(t, res.IsMember)
	assert.Equal(t, service.RuleCoBorrower, res.Rule)
}

func TestCreateApplication(t *testing.T) {
	a := newAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/v1/applications", "u-co", map[string]any{"loan_amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/applications", bytes.NewBufferString("{not json"))
	token, _ := a.auth.IssueToken(&domain.Principal{ID: "u-co"}, time.Minute)
	req.Header.Set("Authorization", "Bearer "+token)
	bad := httptest.NewRecorder()
	a.router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec = a.do(t, http.MethodPost, "/v1/applications", "u-co", map[string]any{
		"loan_amount":      320000,
		"property_address": "9 Harbor Rd",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	app := decodeBody[domain.LoanApplication](t, rec)
	assert.Equal(t, "u-co", app.PrimaryBorrowerID)
	assert.Equal(t, "lo-2", app.AssignedLoanOfficerID)
}

func TestActivateInvite_Idempotent(t *testing.T) {
	a := newAPI(t, nil)

	first := a.do(t, http.MethodPost, "/v1/invites/activate", "u-jane", nil)
	require.Equal(t, http.StatusOK, first.Code)
	res := decodeBody[domain.ActivationResult](t, first)
	assert.Equal(t, domain.ActivationStatusActivated, res.Status)
	assert.Equal(t, "bc-jane", res.BorrowerID)
	assert.Equal(t, 1, res.RepairedApplications)

	second := a.do(t, http.MethodPost, "/v1/invites/activate", "u-jane", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, domain.ActivationStatusActivated, decodeBody[domain.ActivationResult](t, second).Status)

	// Jane now owns app-1 through her account id.
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/applications/app-1", "u-jane", nil).Code)

	none := a.do(t, http.MethodPost, "/v1/invites/activate", "lo-2", nil)
	require.Equal(t, http.StatusOK, none.Code)
	assert.Equal(t, domain.ActivationStatusNoBorrower, decodeBody[domain.ActivationResult](t, none).Status)
}

func TestInviteLifecycle(t *testing.T) {
	a := newAPI(t, nil)

	assert.Equal(t, http.StatusForbidden,
		a.do(t, http.MethodPost, "/v1/invites", "u-co", map[string]string{"email": "new@example.com"}).Code)

	rec := a.do(t, http.MethodPost, "/v1/invites", "lo-1", map[string]string{"email": "new@example.com", "first_name": "Nia"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.CreateInviteResponse](t, rec)

	ok := a.do(t, http.MethodGet, "/v1/invites/"+created.InviteID+"/verify?token="+created.Token, "", nil)
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "new@example.com", decodeBody[domain.InviteVerification](t, ok).Email)

	assert.Equal(t, http.StatusUnauthorized,
		a.do(t, http.MethodGet, "/v1/invites/"+created.InviteID+"/verify?token="+created.InviteID+".nope", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodGet, "/v1/invites/"+created.InviteID+"/verify", "", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(t, http.MethodGet, "/v1/invites/missing/verify?token=missing.secret", "", nil).Code)
}

func TestUpdateLoanTeam(t *testing.T) {
	a := newAPI(t, nil)

	rec := a.do(t, http.MethodPut, "/v1/loans/loan-1/team", "lo-1", map[string]any{"broker_ids": []string{"lp-1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "lp-1", decodeBody[domain.Loan](t, rec).BrokerID)

	assert.Equal(t, http.StatusForbidden,
		a.do(t, http.MethodPut, "/v1/loans/loan-1/team", "lo-2", map[string]any{"broker_ids": []string{"lp-1"}}).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodPut, "/v1/loans/loan-1/team", "lo-1", map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(t, http.MethodPut, "/v1/loans/nope/team", "adm", map[string]any{"broker_ids": []string{}}).Code)
}

// droppingStore acknowledges loan updates without applying them.
type droppingStore struct{ port.RecordStore }

func (d droppingStore) Update(ctx context.Context, table, id string, patch map[string]any, out any) error {
	if table == domain.TableLoans {
		return nil
	}
	return d.RecordStore.Update(ctx, table, id, patch, out)
}

func TestUpdateLoanTeam_VerificationConflict(t *testing.T) {
	a := newAPI(t, func(s port.RecordStore) port.RecordStore { return droppingStore{s} })

	rec := a.do(t, http.MethodPut, "/v1/loans/loan-1/team", "adm", map[string]any{"referrer_ids": []string{"lp-5"}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "referrer_ids")
}

func TestWorkload(t *testing.T) {
	a := newAPI(t, nil)

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/v1/officers/workload", "u-co", nil).Code)

	rec := a.do(t, http.MethodGet, "/v1/officers/workload", "lo-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[domain.WorkloadReport](t, rec)
	require.Len(t, report.Officers, 2)
	assert.Equal(t, "Lee Officer", report.Officers[0].FullName)
	assert.Equal(t, 2, report.Officers[0].Workload)
	assert.Equal(t, "lo-2", report.NextOfficer)

	metrics := a.do(t, http.MethodGet, "/v1/metrics/assignment", "adm", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
}

// slowStore reports a deadline on every read of applications.
type slowStore struct{ port.RecordStore }

func (s slowStore) Get(ctx context.Context, table, id string, out any) error {
	if table == domain.TableLoanApplications {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: &domain.ErrTimeout{Operation: "supabase GET " + table}}
	}
	return s.RecordStore.Get(ctx, table, id, out)
}

func TestStoreTimeout_MapsToGatewayTimeout(t *testing.T) {
	a := newAPI(t, func(s port.RecordStore) port.RecordStore { return slowStore{s} })

	rec := a.do(t, http.MethodGet, "/v1/applications/app-1", "lo-1", nil)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "timed out")
}
