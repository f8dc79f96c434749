package httpmw

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/deal-chat/internal/transport/httputil"
)

// ActivityToucher — отметка активности покупателя в комнате; для продавца no-op.
type ActivityToucher interface {
	TouchActivity(ctx context.Context, roomID, userID string) error
}

// ActivityMiddleware обновляет buyer_last_activity, если {id} комнаты есть в пути.
// Вешается на маршрут /rooms/{id}, где параметр уже разобран.
func ActivityMiddleware(toucher ActivityToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := UserIDFromCtx(r); userID != "" {
				if roomID := chi.URLParam(r, "id"); roomID != "" {
					// best-effort: ошибки не прерывают запрос
					if err := toucher.TouchActivity(r.Context(), roomID, userID); err != nil {
						httputil.L(r.Context()).Debug("activity not recorded", "room", roomID, "err", err)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
