package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/deckmate/tablesync/pkg/api/handlers"
	apimiddleware "github.com/deckmate/tablesync/pkg/api/middleware"
	"github.com/deckmate/tablesync/pkg/engine"
	"github.com/deckmate/tablesync/pkg/log"
)

// APIServer serves the HTTP side of the engine: health, supported
// games, and runtime stats. The WebSocket endpoint lives elsewhere.
type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port   int
	TLS    *TLSConfig
	Engine *engine.Engine
}

// NewAPIServer creates a new http.Server for handling API requests.
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	router := mux.NewRouter()
	router.Use(apimiddleware.Logging)

	router.HandleFunc("/health", handlers.HandleHealth()).Methods(http.MethodGet)
	router.HandleFunc("/games", handlers.HandleListGames(opts.Engine)).Methods(http.MethodGet)
	router.HandleFunc("/stats", handlers.HandleStats(opts.Engine)).Methods(http.MethodGet)
	router.HandleFunc("/stats/connections/{connectionID}", handlers.HandleConnectionMetrics(opts.Engine)).Methods(http.MethodGet)

	return &APIServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.Port),
			Handler: router,
		},
		tls: opts.TLS,
	}
}

// Start starts the API server and blocks until the context is
// cancelled or the listener fails.
func (s *APIServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()

	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}
