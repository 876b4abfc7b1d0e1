package handler

import (
	"net/http"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Applications & loans
// ============================================================

func createApplicationHandler(svc *service.LendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/applications")
		defer span.End()

		var req domain.CreateApplicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		app, err := svc.CreateApplication(ctx, PrincipalFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, app)
	}
}

func getApplicationHandler(svc *service.LendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/applications/{applicationId}")
		defer span.End()

		app, err := svc.GetApplication(ctx, PrincipalFromContext(ctx), chi.URLParam(r, "applicationId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

func getLoanHandler(svc *service.LendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/loans/{loanId}")
		defer span.End()

		loan, err := svc.GetLoan(ctx, PrincipalFromContext(ctx), chi.URLParam(r, "loanId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	}
}

func membershipHandler(svc *service.LendingService, kind, param string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/"+kind+"/membership")
		defer span.End()

		res, err := svc.CheckMembership(ctx, PrincipalFromContext(ctx), kind, chi.URLParam(r, param))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func updateLoanTeamHandler(svc *service.LendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/loans/{loanId}/team")
		defer span.End()

		var req domain.UpdateLoanTeamRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		loan, err := svc.UpdateLoanTeam(ctx, PrincipalFromContext(ctx), chi.URLParam(r, "loanId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	}
}
