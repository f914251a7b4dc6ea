package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/chainraise/internal/observability"
)

func NewRouter(handler *Handler) http.Handler {
	observability.RegisterMetrics()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(handler.logger))
	r.Use(loggingMiddleware(handler.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ready", nil) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/campaigns/last-id", handler.lastCampaignID)
		r.Get("/campaigns/{campaign_id}", handler.getCampaign)
		r.Get("/campaigns/{campaign_id}/contributions/{funder}", handler.contribution)
		r.Get("/events", handler.listEvents)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/campaigns", handler.createCampaign)
			r.Post("/campaigns/{campaign_id}/fund", handler.fund)
			r.Post("/campaigns/{campaign_id}/withdraw", handler.withdraw)
			r.Post("/campaigns/{campaign_id}/reimburse", handler.reimburse)
		})

		if handler.sandboxEnabled() {
			r.Route("/sandbox/assets/{asset}", func(r chi.Router) {
				r.Get("/balances/{account}", handler.sandboxBalance)
				r.Group(func(r chi.Router) {
					r.Use(handler.authMiddleware)
					r.Post("/mint", handler.sandboxMint)
					r.Post("/approve", handler.sandboxApprove)
				})
			})
		}
	})
	return r
}
