package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"

	"moniteur/internal/endpoints"
	"moniteur/internal/query"
	"moniteur/internal/util"
)

// Credentials enable basic auth on every route except /metrics when both are set.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) enabled() bool {
	return c.Username != "" && c.Password != ""
}

func NewRouter(service *query.Service, webSlogger *util.MetricsLogger, creds Credentials) *mux.Router {
	r := mux.NewRouter()

	addRoutes(r, service, webSlogger)

	r.Use(loggingMiddleware(webSlogger))
	if creds.enabled() {
		r.Use(basicAuthMiddleware(creds, webSlogger))
	}

	return r
}

func addRoutes(r *mux.Router, service *query.Service, webSlogger *util.MetricsLogger) {

	metricsHandler := &endpoints.Metrics{}
	metricsHandler.Init(service, webSlogger)

	assetsHandler := &endpoints.Assets{}
	assetsHandler.Init(service, webSlogger)

	r.HandleFunc("/metrics", metricsHandler.GetMetricsHandler).Methods("GET")
	r.HandleFunc("/assets.json", assetsHandler.GetAssetsHandler).Methods("GET")
	r.HandleFunc("/robots.txt", endpoints.RobotsHandler).Methods("GET")
}

// NewHandler is the router with response compression.
func NewHandler(service *query.Service, webSlogger *util.MetricsLogger, creds Credentials) http.Handler {
	return gzhttp.GzipHandler(NewRouter(service, webSlogger, creds))
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Run serves until ctx is done, then shuts the server down gracefully.
func Run(ctx context.Context, server *http.Server, webSlogger *util.MetricsLogger) error {
	errCh := make(chan error, 1)
	go func() {
		webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Listening on", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Shutting down server...")
	if err := gracefulShutdown(server, 25*time.Second); err != nil {
		webSlogger.LogEvent(util.LOG_LEVEL_ERROR, "Server stopped with error:", err)
		return err
	}
	webSlogger.LogEvent(util.LOG_LEVEL_INFO, "Server stopped gracefully.")
	return nil
}

func gracefulShutdown(server *http.Server, maximumTime time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), maximumTime)
	defer cancel()

	return server.Shutdown(ctx)
}

func loggingMiddleware(logger *util.MetricsLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogEvent(util.LOG_LEVEL_INFO, fmt.Sprintf("Request: %s %s", r.Method, r.RequestURI))
			next.ServeHTTP(w, r)
		})
	}
}

// basicAuthMiddleware leaves /metrics open so dashboards can poll it unauthenticated.
func basicAuthMiddleware(creds Credentials, logger *util.MetricsLogger) mux.MiddlewareFunc {
	wantUser := []byte(creds.Username)
	wantPass := []byte(creds.Password)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(user), wantUser) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), wantPass) == 1
			if !ok || !userOK || !passOK {
				logger.LogEvent(util.LOG_LEVEL_WARN, "Unauthorized request:", r.Method, r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Basic realm="moniteur"`)
				endpoints.APIResponse{}.WriteErrorResponseWithStatusCode(w, endpoints.ErrUnauthorized, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
