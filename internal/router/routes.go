package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v1 "github.com/tinoosan/volload/api/v1"
	"github.com/tinoosan/volload/internal/auth"
	"github.com/tinoosan/volload/internal/notify"
	"github.com/tinoosan/volload/internal/service"
)

const (
	idPattern = "{id:[0-9a-fA-F-]+}"
	readyWait = 2 * time.Second
)

// New sets up the application routes and required middleware. Requests to
// the v1 routes need the bearer token of auth.Middleware.
func New(logger *slog.Logger, loadSvc service.Load, hub *notify.Hub) *mux.Router {
	return NewWithAuth(logger, loadSvc, hub, auth.Middleware)
}

// NewWithAuth is New with an explicit auth middleware.
func NewWithAuth(logger *slog.Logger, loadSvc service.Load, hub *notify.Hub, authz mux.MiddlewareFunc) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyWait)
		defer cancel()
		if err := loadSvc.Ping(ctx); err != nil {
			logger.Warn("not ready", "err", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	loadHandler := v1.NewLoadHandler(logger, loadSvc, hub)

	r.Use(v1.RequestID)
	r.Use(loadHandler.Log)
	if authz != nil {
		r.Use(authz)
	}

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/loads", loadHandler.GetLoads)
	get.HandleFunc("/loads/"+idPattern, loadHandler.GetLoad)
	get.HandleFunc("/loads/"+idPattern+"/geometry", loadHandler.GetGeometry)
	get.HandleFunc("/loads/"+idPattern+"/slices/{projection}/{index:[0-9]+}", loadHandler.GetSlice)
	get.HandleFunc("/loads/"+idPattern+"/events", loadHandler.Events)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/loads", loadHandler.AddLoad)
	post.Use(v1.MiddlewareLoadValidation)

	// PATCHes
	patch := api.Methods("PATCH").Subrouter()
	patch.HandleFunc("/loads/"+idPattern, loadHandler.UpdateLoad)
	patch.Use(v1.MiddlewarePatchCurrent)

	api.HandleFunc("/loads/"+idPattern, loadHandler.DeleteLoad).Methods("DELETE")

	return r
}
