package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/port"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck is a named dependency probed by /healthz.
type HealthCheck struct {
	Name   string
	Pinger port.Pinger
}

// Services bundles what the router dispatches to. A nil Auth disables
// every protected route.
type Services struct {
	Auth       *service.AuthService
	Identity   *service.IdentityResolver
	Invites    *service.InviteService
	Lending    *service.LendingService
	Assignment *service.AssignmentService
	Checks     []HealthCheck
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svcs.Checks, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		// Public: pre-login invite check.
		if svcs.Invites != nil {
			r.Get("/invites/{inviteId}/verify", verifyInviteHandler(svcs.Invites, logger))
		}

		if svcs.Auth == nil {
			r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "auth not configured")
			}))
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svcs.Auth, logger))

			// Identity
			r.Get("/me/access-ids", accessIDsHandler(svcs.Identity, logger))

			// Invites
			r.Post("/invites/activate", activateInviteHandler(svcs.Invites, logger))
			r.Post("/invites", createInviteHandler(svcs.Invites, logger))

			// Applications
			r.Post("/applications", createApplicationHandler(svcs.Lending, logger))
			r.Get("/applications/{applicationId}", getApplicationHandler(svcs.Lending, logger))
			r.Get("/applications/{applicationId}/membership", membershipHandler(svcs.Lending, service.RecordKindApplication, "applicationId", logger))

			// Loans
			r.Get("/loans/{loanId}", getLoanHandler(svcs.Lending, logger))
			r.Get("/loans/{loanId}/membership", membershipHandler(svcs.Lending, service.RecordKindLoan, "loanId", logger))
			r.Put("/loans/{loanId}/team", updateLoanTeamHandler(svcs.Lending, logger))

			// Staff
			r.Group(func(r chi.Router) {
				r.Use(requireAppRole(logger, domain.AppRoleLoanOfficer))
				r.Get("/officers/workload", workloadHandler(svcs.Assignment, logger))
				r.Get("/metrics/assignment", assignmentMetricsHandler(metrics))
			})
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "lending-bfa", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		for _, c := range checks {
			start := time.Now()
			err := c.Pinger.Ping(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("health check failed", zap.String("dependency", c.Name), zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: c.Name, Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func assignmentMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAssignmentSnapshot())
	}
}
