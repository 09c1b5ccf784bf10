// Package httpapi is the transport adapter (out of scope for the five
// scored core components): bearer-token auth, JSON parsing, and envelope
// wrapping around the world runtime in package app.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Shoalstone/MASH/internal/app"
	"github.com/Shoalstone/MASH/internal/app/bus"
	"github.com/Shoalstone/MASH/internal/app/metrics"
	"github.com/Shoalstone/MASH/pkg/logger"
)

type handler struct {
	app       *app.Application
	log       *logger.Logger
	startedAt int64
}

// NewHandler builds the full mux: health, auth, and the authenticated
// poll/wait/action surface.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	h := &handler{app: application, log: log, startedAt: bus.NowMS()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mountRoutes(mux,
		route{pattern: "/health", method: http.MethodGet, handler: h.health},
		route{pattern: "/auth/signup", method: http.MethodPost, handler: h.signup},
		route{pattern: "/auth/login", method: http.MethodPost, handler: h.login},
		route{pattern: "/poll", method: http.MethodPost, handler: withAuth(application, h.poll)},
		route{pattern: "/wait", method: http.MethodPost, handler: withAuth(application, h.wait)},
		route{pattern: "/action/", method: http.MethodPost, handler: withAuth(application, h.action)},
	)

	return metrics.InstrumentHandler(withCORS(mux))
}

// health implements `GET /health` (§6): `{status:"ok", tick_number, uptime}`.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.app.Store.Lock()
	ws := h.app.Store.WorldState()
	h.app.Store.Unlock()
	uptime := time.Duration(bus.NowMS()-h.startedAt) * time.Millisecond
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"tick_number": ws.TickNumber,
		"uptime":      uptime.Seconds(),
	})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errString(s string) error { return errors.New(s) }
