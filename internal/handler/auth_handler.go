package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Session & authentication
// ============================================================

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func sessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sessionState(r).View())
	}
}

func loginHandler(limiter *LoginLimiter, resolveTimeout time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		if limiter != nil && !limiter.Allow(clientIP(r)) {
			logger.Warn("auth: login rate limited", zap.String("remote_addr", clientIP(r)))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "email", Message: "email and password are required"}, logger)
			return
		}

		resolver := ResolverFromContext(ctx)
		account, err := resolver.SignIn(ctx, req.Email, req.Password)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("account.id", account.ID))

		waitCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
		defer cancel()
		state, err := resolver.Await(waitCtx, func(s domain.SessionState) bool {
			return s.Account != nil && s.Account.ID == account.ID
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		logger.Info("auth: signed in",
			zap.String("account_id", account.ID),
			zap.String("role", string(state.Role)),
		)
		writeJSON(w, http.StatusOK, state.View())
	}
}

func logoutHandler(resolveTimeout time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/logout")
		defer span.End()

		resolver := ResolverFromContext(ctx)
		if err := resolver.SignOut(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
		defer cancel()
		if _, err := resolver.Await(waitCtx, func(s domain.SessionState) bool {
			return !s.Authenticated()
		}); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
