package handler

import (
	"net/http"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/observability"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Dashboard reads
// ============================================================

func overviewHandler(svc *service.Dashboard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard/overview")
		defer span.End()

		overview, err := svc.Overview(ctx, sessionState(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}

func companiesHandler(svc *service.Dashboard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/companies")
		defer span.End()

		companies, err := svc.ListCompanies(ctx, sessionState(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Tenant]{Data: companies, Total: len(companies)})
	}
}

func projectsHandler(svc *service.Dashboard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/projects")
		defer span.End()

		status := r.URL.Query().Get("status")
		span.SetAttributes(attribute.String("filter.status", status))

		projects, err := svc.ListProjects(ctx, sessionState(r), status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Project]{Data: projects, Total: len(projects)})
	}
}

func paymentsHandler(svc *service.Dashboard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/payments")
		defer span.End()

		status := r.URL.Query().Get("status")
		span.SetAttributes(attribute.String("filter.status", status))

		summary, err := svc.ListPayments(ctx, sessionState(r), status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func sessionMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSessionSnapshot())
	}
}
