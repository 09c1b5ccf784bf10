package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/Shoalstone/MASH/internal/app"
)

// withMethod wraps a handler, enforcing the HTTP method and emitting 405
// otherwise.
func withMethod(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			methodNotAllowed(w, method)
			return
		}
		fn(w, r)
	}
}

// methodNotAllowed standardizes 405 responses and sets the Allow header.
func methodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}

type contextKey string

const agentIDContextKey contextKey = "agent_id"

// withAuth extracts `Authorization: Bearer <token>`, resolves it against
// the application, and stashes the agent id on the request context. Every
// endpoint except /health, /metrics and /auth/* requires it (§6 Authentication).
func withAuth(application *app.Application, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, errString("missing bearer token"))
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		agent, ok := application.Authenticate(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, errString("invalid token"))
			return
		}
		ctx := context.WithValue(r.Context(), agentIDContextKey, agent.ID)
		next(w, r.WithContext(ctx))
	}
}

func agentIDFromContext(r *http.Request) (string, bool) {
	v, ok := r.Context().Value(agentIDContextKey).(string)
	return v, ok
}

// withCORS allows cross-origin clients and short-circuits preflight.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
