package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/english-tutor-bridge/internal/router"
)

type deps struct {
	engines *router.Router[http.Handler]
}

// registerRoutes wires all HTTP endpoints to the shared mux. The two fixed
// upstream-variant paths and the generic `?engine=` entrypoint both resolve
// through the same engine router, so a new variant only needs a new
// registration, not a new handler.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("/ws/openai-realtime", d.engineHandler("openai"))
	mux.HandleFunc("/ws/gemini-realtime", d.engineHandler("gemini"))
	mux.HandleFunc("/ws/realtime", d.routeByQueryParam)
	mux.HandleFunc("/api/engines", d.handleEngines)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

func (d deps) engineHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := d.engines.Route(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.ServeHTTP(w, r)
	}
}

func (d deps) routeByQueryParam(w http.ResponseWriter, r *http.Request) {
	engine := r.URL.Query().Get("engine")
	h, err := d.engines.Route(engine)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.ServeHTTP(w, r)
}

func (d deps) handleEngines(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"engines": d.engines.Engines(),
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
