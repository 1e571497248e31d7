// Package web_server provides the HTTP boundary: a REST API for all game
// operations and the websocket update feeds. Handlers are thin translations
// onto the domain packages, all state changes run inside a scope session.
package web_server

import (
	"context"
	nativeerrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/skirmishgame/skirmish-server/errors"
	"go.uber.org/zap"
)

const (
	// DefaultServeAddr is the default address to serve on.
	DefaultServeAddr = ":8080"
	// DefaultWriteTimeout is the default timeout for writing.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultReadTimeout is the default timeout for reading.
	DefaultReadTimeout = 15 * time.Second
)

// WebServer serves the REST API and the update feeds.
type WebServer struct {
	logger     *zap.Logger
	config     Config
	httpServer *http.Server
	router     *mux.Router
	running    bool
}

// Config is the configuration that is used in order to create and run a web
// server.
type Config struct {
	// ServeAddr is the address for the web server to listen on.
	ServeAddr string
	// WriteTimeout is the duration to wait until write fails with a timeout.
	// Must be generous enough for the update feeds' ping interval.
	WriteTimeout time.Duration
	// ReadTimeout is the duration to wait until read fails with a timeout.
	ReadTimeout time.Duration
	// AdminToken guards the admin endpoints. Requests must carry it in the
	// Authorization header as bearer token.
	AdminToken string
}

// NewWebServer creates a new WebServer. It expects the passed Config to be
// filled correctly; default values are exported as DefaultServeAddr,
// DefaultWriteTimeout and DefaultReadTimeout. Run it with WebServer.Run and
// do not forget to call WebServer.PopulateRoutes before.
func NewWebServer(logger *zap.Logger, config Config) (*WebServer, error) {
	server := WebServer{
		logger: logger,
		config: config,
		router: mux.NewRouter(),
	}
	server.router.Use(loggingMiddleware(logger))
	server.router.Use(noCacheMiddleware)
	server.router.NotFoundHandler = noCacheMiddleware(loggingMiddleware(logger)(http.NotFoundHandler()))
	if config.ServeAddr == "" {
		return nil, nativeerrors.New("no addr provided in config")
	}
	server.httpServer = &http.Server{
		Handler:      server.router,
		Addr:         config.ServeAddr,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
	}
	return &server, nil
}

// Run starts the web server and blocks until the context is done, then shuts
// the server down.
func (server *WebServer) Run(ctx context.Context) error {
	if server.running {
		return nativeerrors.New("web server already running")
	}
	server.running = true
	go func() {
		// Enable CORS.
		handler := cors.New(cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		}).Handler(server.router)
		server.httpServer.Handler = handler
		server.logger.Info("web server running", zap.String("addr", server.config.ServeAddr))
		err := server.httpServer.ListenAndServe()
		if err != nil && !nativeerrors.Is(err, http.ErrServerClosed) {
			errors.Log(server.logger, errors.Wrap(err, "listen and serve", nil))
		}
	}()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := server.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return errors.Wrap(err, "shutdown web server", nil)
	}
	return nil
}
