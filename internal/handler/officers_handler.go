package handler

import (
	"net/http"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/infra/cache"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"go.uber.org/zap"
)

func workloadHandler(svc *service.AssignmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/officers/workload")
		defer span.End()

		users := cache.New[*domain.User](0)
		defer users.Close()

		report, err := svc.WorkloadReport(ctx, users)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
