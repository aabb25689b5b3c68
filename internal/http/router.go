package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"taskflow/internal/auth"
	"taskflow/internal/board"
	"taskflow/internal/broadcast"
	"taskflow/internal/config"
	"taskflow/internal/http/handler"
	mw "taskflow/internal/http/middleware"
	"taskflow/internal/realtime"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

// NewRouter mounts the REST API and the websocket endpoint. Board mutations
// are published through hub once committed.
func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT, hub *realtime.Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","connections":` + strconv.Itoa(hub.Connections()) + `}`))
	})

	users := &auth.Users{DB: db}

	ah := &handler.AuthHandler{Users: users, JWT: jwtSvc}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{Users: users}
	r.With(auth.RequireAuth(jwtSvc)).Get("/me", me.Me)

	bh := &handler.BoardHandler{
		Svc:       &board.Service{DB: db},
		Broadcast: broadcast.New(hub, logger),
		Logger:    logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/projects", bh.CreateProject)
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Post("/members", bh.AddMember)
			r.Get("/board", bh.Board)
			r.Get("/activity", bh.Activity)
			r.Post("/columns", bh.CreateColumn)
			r.Put("/columns/order", bh.ReorderColumns)
		})

		r.Route("/columns/{id}", func(r chi.Router) {
			r.Patch("/", bh.RenameColumn)
			r.Delete("/", bh.DeleteColumn)
			r.Post("/tasks", bh.CreateTask)
			r.Put("/tasks/order", bh.ReorderTasks)
		})

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Patch("/", bh.UpdateTask)
			r.Delete("/", bh.DeleteTask)
			r.Post("/move", bh.MoveTask)
			r.Post("/comments", bh.AddComment)
		})

		r.Route("/comments/{id}", func(r chi.Router) {
			r.Patch("/", bh.EditComment)
			r.Delete("/", bh.DeleteComment)
		})
	})

	ws := realtime.NewServer(hub, auth.NewAuthenticator(jwtSvc, users, logger), realtime.ServerOptions{
		SendQueue:        cfg.WSSendQueue,
		HandshakeTimeout: cfg.WSHandshakeTimeout,
		PingInterval:     cfg.WSPingInterval,
		AllowedOrigins:   cfg.CORSAllowedOrigins,
	}, logger)
	r.Method(http.MethodGet, "/ws", ws)

	return r
}
