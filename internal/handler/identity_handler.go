package handler

import (
	"net/http"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Identity & invites
// ============================================================

func accessIDsHandler(svc *service.IdentityResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/me/access-ids")
		defer span.End()

		ids := svc.ResolveAccessIDs(ctx, PrincipalFromContext(ctx))
		writeJSON(w, http.StatusOK, ids)
	}
}

func activateInviteHandler(svc *service.InviteService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invites/activate")
		defer span.End()

		res, err := svc.ActivateInvite(ctx, PrincipalFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func createInviteHandler(svc *service.InviteService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invites")
		defer span.End()

		var req domain.CreateInviteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp, err := svc.CreateInvite(ctx, PrincipalFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func verifyInviteHandler(svc *service.InviteService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/invites/{inviteId}/verify")
		defer span.End()

		token := r.URL.Query().Get("token")
		if token == "" {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}
		v, err := svc.VerifyInvite(ctx, chi.URLParam(r, "inviteId"), token)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
