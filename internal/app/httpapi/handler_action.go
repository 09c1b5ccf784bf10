package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Shoalstone/MASH/internal/app/actions"
	"github.com/Shoalstone/MASH/internal/app/bus"
	"github.com/Shoalstone/MASH/internal/app/envelope"
)

type envelopeResponse struct {
	Info   envelope.Info `json:"info"`
	Result actions.Result `json:"result"`
}

func (h *handler) respond(w http.ResponseWriter, agentID string, result actions.Result) {
	now := bus.NowMS()
	envelope.Touch(h.app.Store, agentID, now)
	info := envelope.Build(h.app.Store, agentID, h.app.Tick.IntervalMS(), now)

	status := http.StatusOK
	if actions.IsPolicyError(result) {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, envelopeResponse{Info: info, Result: result})
}

// poll implements `/poll {}`: no work of its own, just the envelope (§6).
func (h *handler) poll(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentIDFromContext(r)
	h.respond(w, agentID, actions.Result{})
}

// wait implements `/wait {}`: blocks until the next tick's waiter fan-out
// or the client disconnects (§4.E phase 6).
func (h *handler) wait(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentIDFromContext(r)

	cap := time.Duration(h.app.Tick.IntervalMS()) * time.Millisecond
	if cap <= 0 {
		cap = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), cap)
	defer cancel()
	h.app.Tick.Wait(ctx, agentID)

	h.respond(w, agentID, actions.Result{})
}

// action implements `POST /action/<verb>` (§6), dispatching to the
// instant/queued/free handler keyed by class.
func (h *handler) action(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentIDFromContext(r)

	verb := strings.TrimPrefix(r.URL.Path, "/action/")
	verb = strings.Trim(verb, "/")
	if verb == "" {
		writeError(w, http.StatusBadRequest, errString("verb required"))
		return
	}

	var params map[string]interface{}
	defer r.Body.Close()
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result := actions.Handle(h.app.Store, h.app.Limits, agentID, verb, params)
	h.respond(w, agentID, result)
}
