package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"wealthcheck/pkg/requestcontext"
)

// ReviewerValidator resolves a bearer token to the reviewer it was issued to.
type ReviewerValidator interface {
	ReviewerFromToken(tokenString string) (string, error)
}

// RequireReviewer rejects requests without a valid reviewer token and stores
// the reviewer identity in the request context.
func RequireReviewer(validator ReviewerValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeUnauthorized(w, logger, r, `{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`)
				return
			}

			reviewer, err := validator.ReviewerFromToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w, logger, r, `{"error":"unauthorized","error_description":"Invalid or expired token"}`)
				return
			}

			ctx = requestcontext.WithReviewer(ctx, reviewer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, logger *slog.Logger, r *http.Request, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.ErrorContext(r.Context(), "failed to write unauthorized response",
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
	}
}
