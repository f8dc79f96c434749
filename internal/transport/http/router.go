package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwrk-planet/deal-chat/internal/identity"
	httpmw "github.com/cwrk-planet/deal-chat/internal/transport/http/middleware"
	"github.com/cwrk-planet/deal-chat/internal/transport/httputil"
)

type Deps struct {
	Handler  *Handler
	WS       http.HandlerFunc // GET /ws/rooms/{id}
	Auth     identity.Authenticator
	Activity httpmw.ActivityToucher

	AllowedOrigins []string
	RequestTimeout time.Duration // 30s
	// Health — проверка хранилища для /healthz; nil — всегда ok.
	Health func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(httputil.WithRequestLoggerCtx)
	r.Use(httputil.RequestLogger)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				httputil.L(r.Context()).Error("health check failed", "err", err)
				httputil.Error(w, http.StatusServiceUnavailable, "unavailable", "storage is not reachable")
				return
			}
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// WS: авторизация внутри обработчика, без таймаута запроса
	if d.WS != nil {
		r.Get("/ws/rooms/{id}", d.WS)
	}

	h := d.Handler
	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.AuthMiddleware(d.Auth))
		pr.Use(middlewareChi.Timeout(d.RequestTimeout))

		pr.Post("/listings/{id}/room", h.OpenRoom)

		pr.Route("/rooms", func(rm chi.Router) {
			rm.Get("/", h.ListRooms)
			rm.Get("/unread", h.TotalUnread)

			rm.Route("/{id}", func(rr chi.Router) {
				if d.Activity != nil {
					rr.Use(httpmw.ActivityMiddleware(d.Activity))
				}
				rr.Get("/", h.GetRoom)
				rr.Get("/messages", h.ListMessages)
				rr.Post("/messages", h.SendMessage)
				rr.Patch("/messages/{msgID}", h.EditMessage)
				rr.Delete("/messages/{msgID}", h.DeleteMessage)
				rr.Post("/read", h.MarkRead)
				rr.Post("/close", h.CloseRoom)
				rr.Get("/presence", h.Presence)
			})
		})

		pr.Route("/notifications", func(nr chi.Router) {
			nr.Get("/", h.ListNotifications)
			nr.Post("/{id}/read", h.MarkNotificationRead)
		})
	})

	return r
}
