package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/utils"
	"go.uber.org/zap"
)

// ExtractScope builds the request scope from the X-User-ID header and the
// conversation route parameter. Authentication happens upstream; a request
// without a user id is rejected with 401.
func ExtractScope(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := models.NewScope(r.Header.Get(UserIDHeader), chi.URLParam(r, ConversationIDParam))

			if scope.UserID == "" {
				logger.Debug("request without user id", zap.String("path", r.URL.Path))
				_ = utils.WriteUnauthorized(w, "missing "+UserIDHeader+" header")
				return
			}
			if scope.ConversationID == "" {
				_ = utils.WriteBadRequest(w, "conversation id is required", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}
