package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/citta/backend/internal/handler/document"
	"github.com/zhouzirui/citta/backend/internal/handler/learning"
	"github.com/zhouzirui/citta/backend/internal/handler/live"
	"github.com/zhouzirui/citta/backend/internal/handler/mode"
	"github.com/zhouzirui/citta/backend/internal/handler/session"
	"github.com/zhouzirui/citta/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/citta/backend/internal/middleware"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	liveService "github.com/zhouzirui/citta/backend/internal/service/live"
	tutoringService "github.com/zhouzirui/citta/backend/internal/service/tutoring"
	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// Pinger 报告存储是否可用。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies 路由需要的服务；Speech 与 Live 可为空。
type Dependencies struct {
	Modes          tutoring.ModeStore
	Tutoring       *tutoringService.Service
	Speech         speech.SpeechService
	Live           *liveService.Coordinator
	Store          Pinger
	AllowedOrigins []string
	Session        session.Options
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", handleHealth(deps.Store))
		mode.New(deps.Modes).RegisterRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.Identity)

			session.New(deps.Tutoring, deps.Session).RegisterRoutes(authed)
			document.New(deps.Tutoring).RegisterRoutes(authed)
			learning.New(deps.Tutoring).RegisterRoutes(authed)
			speech.New(deps.Speech, deps.Tutoring).RegisterRoutes(authed)

			if deps.Live != nil {
				live.New(deps.Live).RegisterRoutes(authed)
			} else {
				authed.Get("/live/ws", func(w http.ResponseWriter, _ *http.Request) {
					utils.RespondError(w, http.StatusNotImplemented, "live conversation not available")
				})
			}
		})
	})

	return r
}

func handleHealth(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				log.Printf("[health] store ping failed: %v", err)
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		utils.RespondJSON(w, code, map[string]any{
			"status": status,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
