package route

import (
	"net/http"

	"github.com/gorilla/mux"

	"neurovision/internal/auth"
	"neurovision/internal/config"
	"neurovision/internal/handler"
	"neurovision/internal/logger"
	"neurovision/internal/middleware"
	"neurovision/internal/repository"
	"neurovision/internal/service/storage"
	"neurovision/internal/service/user"
	"neurovision/internal/service/websocket"
)

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	Analyzer        handler.Analyzer
	Images          repository.ImageRepository
	Recognitions    repository.RecognitionRepository
	Fallback        *storage.FallbackStore
	Hub             *websocket.HubService
	Users           *user.Service
	JWT             *auth.JWTManager
	DetectorHealthy func() bool
}

// SetupRoutes registers the API endpoints and the public fallback images, and
// wraps everything with the CORS middleware. Endpoints under /api/neural and
// the session endpoints of /api/users require an access token.
func SetupRoutes(d Deps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", handler.HealthHandler(d.DetectorHealthy)).Methods(http.MethodGet)

	// Locally stored images of analyses whose upload failed
	r.PathPrefix(storage.PublicPrefix).Handler(
		http.StripPrefix(storage.PublicPrefix, http.FileServer(http.Dir(d.Config.PublicDir()))),
	).Methods(http.MethodGet)

	requireAuth := middleware.AuthMiddleware(d.JWT)

	users := r.PathPrefix("/api/users").Subrouter()
	users.HandleFunc("/register", handler.RegisterHandler(d.Users, d.Logger)).Methods(http.MethodPost)
	users.HandleFunc("/login", handler.LoginHandler(d.Users, d.Logger)).Methods(http.MethodPost)
	users.HandleFunc("/refresh", handler.RefreshHandler(d.Users, d.Logger)).Methods(http.MethodPost)
	users.Handle("/auth/check", requireAuth(handler.AuthCheckHandler())).Methods(http.MethodGet)
	users.Handle("/logout", requireAuth(handler.LogoutHandler(d.JWT, d.Logger))).Methods(http.MethodPost)

	neural := r.PathPrefix("/api/neural").Subrouter()
	neural.Use(requireAuth)
	neural.HandleFunc("/analyze", handler.AnalyzeHandler(d.Analyzer, d.Config, d.Logger)).Methods(http.MethodPost)
	neural.HandleFunc("/history", handler.HistoryHandler(d.Logger, d.Images, d.Recognitions)).Methods(http.MethodGet)
	neural.HandleFunc("/results/{imageID:[0-9]+}", handler.ResultHandler(d.Logger, d.Images, d.Recognitions)).Methods(http.MethodGet)
	neural.HandleFunc("/images/{imageID:[0-9]+}", handler.DeleteImageHandler(d.Logger, d.Images, d.Fallback)).Methods(http.MethodDelete)
	neural.HandleFunc("/stats", handler.StatsHandler(d.Logger, d.Images)).Methods(http.MethodGet)
	neural.HandleFunc("/events", handler.EventsWebsocketHandler(d.Hub, d.Logger)).Methods(http.MethodGet)

	return middleware.CORSMiddleware(d.Config.CORSOrigins)(r)
}
