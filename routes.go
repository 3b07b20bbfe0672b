package main

import (
	"net/http"

	"atende/atendimento"
	"atende/attendant"
	"atende/auth"
	"atende/catalog"
	"atende/checkout"
	"atende/dashboard"
	"atende/heatmap"
	"atende/metrics"

	"github.com/gorilla/mux"
)

// SetupRoutes は全ハンドラを登録します。/api と /ws は認証の内側、
// /metrics・/healthz・決済 webhook (署名で検証) は外側です。
func SetupRoutes(app *App) *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(app)).Methods(http.MethodGet)
	checkout.RegisterWebhook(r, app.Checkout, app.Limiter.Middleware)

	api := r.NewRoute().Subrouter()
	api.Use(app.Auth.Handler)
	admin := mux.MiddlewareFunc(auth.RequireAdmin)

	api.HandleFunc("/api/me", auth.MeHandler).Methods(http.MethodGet)
	api.HandleFunc("/ws", app.Hub.ServeWS)

	api.HandleFunc("/api/config", GetConfigHandler()).Methods(http.MethodGet)
	api.Handle("/api/config", admin(SaveConfigHandler())).Methods(http.MethodPost)

	attendant.RegisterRoutes(api, app.DB, app.Assignment, admin)
	atendimento.RegisterRoutes(api, app.DB, app.Tickets)
	catalog.RegisterRoutes(api, app.DB, admin)
	checkout.RegisterRoutes(api, app.DB, app.Checkout, app.Printer, app.Env.CompanyName, app.Limiter.Middleware)

	api.HandleFunc("/api/dashboard/summary", dashboard.SummaryHandler(app.DB, app.Cache)).Methods(http.MethodGet)
	api.HandleFunc("/api/dashboard/heatmap", heatmap.Handler(app.DB)).Methods(http.MethodGet)
	api.HandleFunc("/api/events/recent", dashboard.RecentEventsHandler(app.Ring)).Methods(http.MethodGet)

	return r
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}
}
