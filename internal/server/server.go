package server

import (
	"log/slog"
	"net/http"

	"github.com/peterje/steamsession/internal/api"
	"github.com/peterje/steamsession/internal/config"
	"github.com/peterje/steamsession/internal/login"
	"github.com/peterje/steamsession/internal/models"
	"github.com/peterje/steamsession/internal/preflight"
	"github.com/peterje/steamsession/internal/ws"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	Manager   *login.Manager
	Account   api.AccountStore
	Installer api.SteamInstaller
	History   api.AttemptLister
	Steam     config.Steam
	Mode      string
	Log       *slog.Logger
}

type Server struct {
	mux  *http.ServeMux
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{
		mux:  http.NewServeMux(),
		deps: deps,
	}
	s.routes()
	return s
}

// Handler wraps the routes in request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.deps.Log, recoveryMiddleware(s.deps.Log, s))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	loginH := api.NewLoginHandler(s.deps.Manager)
	account := api.NewAccountHandler(s.deps.Account, s.deps.Manager, s.deps.Log)
	steamcmd := api.NewSteamCMDHandler(s.deps.Installer, s.deps.Manager)
	wsHandler := ws.NewHandler(s.deps.Manager, s.deps.Log)

	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Login
	s.mux.HandleFunc("GET /api/login", loginH.HandleGet)
	s.mux.HandleFunc("POST /api/login", loginH.HandleStart)
	s.mux.HandleFunc("POST /api/login/code", loginH.HandleCode)
	s.mux.HandleFunc("DELETE /api/login", loginH.HandleCancel)

	// Account
	s.mux.HandleFunc("GET /api/account", account.HandleGet)
	s.mux.HandleFunc("DELETE /api/account", account.HandleForget)

	// History
	if s.deps.History != nil {
		attempts := api.NewAttemptsHandler(s.deps.History)
		s.mux.HandleFunc("GET /api/attempts", attempts.HandleList)
	}

	// steamcmd
	s.mux.HandleFunc("GET /api/steamcmd", steamcmd.HandleStatus)
	s.mux.HandleFunc("POST /api/steamcmd/install", steamcmd.HandleInstall)
	s.mux.HandleFunc("DELETE /api/steamcmd", steamcmd.HandleUninstall)

	// WebSocket
	s.mux.Handle("GET /ws/login", wsHandler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	checks := preflight.CheckAll(s.deps.Steam, s.deps.Mode)
	resp := models.HealthResponse{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !preflight.Healthy(checks) {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, resp)
}
