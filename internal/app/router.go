package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/controller"
	"github.com/unclebandit/phishsim-backend/internal/handler"
	"github.com/unclebandit/phishsim-backend/internal/service"
)

// Router mounts the tracking endpoints at the root, the admin API under
// /api, plus /healthz and /metrics.
func (a *App) Router(campaigns *service.CampaignService) http.Handler {
	r := chi.NewRouter()
	if a.Config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ping(ctx); err != nil {
			a.Logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	tracking := &handler.TrackingHandler{
		Tracker: &service.TrackingService{Store: a.Store, Logger: a.Logger},
		Logger:  a.Logger,
	}
	r.Mount("/", tracking.Routes(a.Config.TrackingRateLimit))

	admin := &controller.CampaignController{
		CampaignService: campaigns,
		ReportService:   &service.ReportService{Store: a.Store},
		Templates:       a.Templates,
		SMTPTest:        TestSMTP,
		SMTPDefaults:    a.SMTPDefaults(),
		Logger:          a.Logger,
	}
	r.Mount("/api", admin.Routes(a.Config.AllowedOrigins))
	return r
}
