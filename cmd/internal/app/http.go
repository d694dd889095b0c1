package app

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the root router:
//
//	/healthz, /readyz, /metrics   operations
//	/ws/sensors                   realtime gateway
//	/api/...                      sensors and accounts APIs
func (a *App) routes(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.HandleFunc("/ws/sensors", a.ws.HandleWS)
	r.HandleFunc("/ws/sensors/", a.ws.HandleWS)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.StripSlashes)
		api.Use(func(next http.Handler) http.Handler {
			return withTimeoutContext(next, a.cfg.WriteTimeout)
		})
		a.sensorsAPI.Register(api)
		a.accountsAPI.Register(api)
	})

	var h http.Handler = r
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log, a.httpMetrics)
	return middleware.RequestID(h)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if a.cfg.ReadinessRequireDB && a.dbPool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.dbPool != nil {
		if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
			a.log.Warn("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ready\n"))
}

// runtimeBaseURL turns a listen address into a URL a local client can dial. Wildcard hosts map to
// the loopback address.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(strings.TrimPrefix(base, "http://"), "https://")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// sensorsWSURL is the websocket endpoint advertised for base.
func sensorsWSURL(base string) string {
	return strings.TrimSuffix(wsBaseURL(base), "/") + "/ws/sensors"
}
