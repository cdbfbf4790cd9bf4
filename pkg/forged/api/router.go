package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	chi_middleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	api_v1_deploy "github.com/appforge/forge/pkg/forged/api/v1/deploy"
	api_v1_status "github.com/appforge/forge/pkg/forged/api/v1/status"
	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/hosting"
	"github.com/appforge/forge/pkg/forged/logproxy"
	"github.com/appforge/forge/pkg/forged/middleware"
	"github.com/appforge/forge/pkg/version"
)

var requestTimeout = time.Second * 10

type Config struct {
	Admitter        api_v1_deploy.Admitter
	BaseURL         string
	DeploymentStore database.DeploymentStore
	Hosting         hosting.Client
	Kibana          logproxy.Config
	MetricsPath     string
	Secret          string
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func New(cfg Config) chi.Router {
	prometheusMiddleware := middleware.PrometheusMiddleware("forged")

	deploymentHandler := &api_v1_deploy.DeploymentHandler{
		Admitter: cfg.Admitter,
		Hosting:  cfg.Hosting,
		BaseURL:  cfg.BaseURL,
		Secret:   cfg.Secret,
	}

	statusHandler := &api_v1_status.StatusHandler{
		Store:  cfg.DeploymentStore,
		Secret: cfg.Secret,
	}

	// Pre-populate request metrics
	for _, code := range api_v1_deploy.StatusCodes {
		prometheusMiddleware.Initialize("/deploy-endpoint", http.MethodPost, code)
	}
	for _, code := range api_v1_status.StatusCodes {
		prometheusMiddleware.Initialize("/api/v1/status", http.MethodPost, code)
	}

	// Base settings for all requests
	router := chi.NewRouter()
	router.Use(
		middleware.RequestLogger(),
		prometheusMiddleware.Handler(),
		chi_middleware.StripSlashes,
	)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:  "operational",
			Version: version.Version(),
		})
	})

	// Mount /metrics endpoint with no authentication
	router.Get(cfg.MetricsPath, promhttp.Handler().ServeHTTP)

	// Deployment logs accessible via shorthand URL
	router.HandleFunc("/logs", logproxy.MakeHandler(cfg.Kibana))

	router.Group(func(r chi.Router) {
		r.Use(
			chi_middleware.AllowContentType("application/json"),
			chi_middleware.Timeout(requestTimeout),
		)

		r.Post("/deploy-endpoint", deploymentHandler.ServeHTTP)
		r.Post("/api/v1/status", statusHandler.ServeHTTP)
	})

	return router
}
