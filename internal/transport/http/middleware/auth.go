package httpmw

import (
	"net/http"

	"github.com/cwrk-planet/deal-chat/internal/identity"
	"github.com/cwrk-planet/deal-chat/internal/transport/httputil"
)

// AuthMiddleware проверяет Bearer-токен и кладёт пользователя в контекст.
func AuthMiddleware(auth identity.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := auth.Authenticate(r.Context(), identity.TokenFromRequest(r))
			if err != nil {
				httputil.Fail(r.Context(), w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), userID)))
		})
	}
}

func UserIDFromCtx(r *http.Request) string {
	id, _ := identity.UserFromContext(r.Context())
	return id
}
