package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Shoalstone/MASH/internal/app"
	"github.com/Shoalstone/MASH/internal/app/storage"
	"github.com/Shoalstone/MASH/internal/app/tick"
)

func newTestApplication() *app.Application {
	cfg := tick.Config{
		TickIntervalMS:         10000,
		MaxAP:                  4,
		MaxBuyAP:               20,
		MaxContainmentDepth:    5,
		MaxInteractionsPerTick: 4,
		IdleTimeoutMS:          3600000,
		EventTTLMS:             60000,
	}
	return app.New(storage.NewMemory(), cfg, nil)
}

func postJSON(t *testing.T, handler http.Handler, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsUnauthenticated(t *testing.T) {
	handler := NewHandler(newTestApplication(), nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
	if _, ok := body["tick_number"]; !ok {
		t.Fatalf("expected tick_number field in health response, got %v", body)
	}
	if _, ok := body["uptime"]; !ok {
		t.Fatalf("expected uptime field in health response, got %v", body)
	}
}

func TestActionRequiresBearerToken(t *testing.T) {
	handler := NewHandler(newTestApplication(), nil)
	rec := postJSON(t, handler, "/action/look", "", map[string]interface{}{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestSignupThenActionRoundTrip(t *testing.T) {
	application := newTestApplication()
	handler := NewHandler(application, nil)

	rec := postJSON(t, handler, "/auth/signup", "", map[string]string{"username": "alice", "password": "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var signupRes signupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &signupRes); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if signupRes.Token == "" || signupRes.AgentID == "" {
		t.Fatalf("expected a token and agent id, got %+v", signupRes)
	}

	rec = postJSON(t, handler, "/action/look", signupRes.Token, map[string]interface{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("look expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope envelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Result["type"] != "node" {
		t.Fatalf("expected a node look result, got %v", envelope.Result)
	}
}

func TestQueuedActionReturns429WhenAPExhausted(t *testing.T) {
	application := newTestApplication()
	handler := NewHandler(application, nil)

	rec := postJSON(t, handler, "/auth/signup", "", map[string]string{"username": "bob", "password": "hunter2"})
	var signupRes signupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &signupRes); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}

	var last *httptest.ResponseRecorder
	for i := 0; i < application.Limits.MaxAP+1; i++ {
		last = postJSON(t, handler, "/action/home", signupRes.Token, map[string]interface{}{})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the AP-exhausting request to return 429, got %d: %s", last.Code, last.Body.String())
	}
}

// TestInstantActionReturns429WhenAPExhausted matches spec.md scenario 3:
// four /action/look calls in one tick succeed, the fifth returns 429 with
// {error:"no AP remaining"}.
func TestInstantActionReturns429WhenAPExhausted(t *testing.T) {
	application := newTestApplication()
	handler := NewHandler(application, nil)

	rec := postJSON(t, handler, "/auth/signup", "", map[string]string{"username": "carol", "password": "hunter2"})
	var signupRes signupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &signupRes); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}

	for i := 0; i < application.Limits.MaxAP; i++ {
		rec = postJSON(t, handler, "/action/look", signupRes.Token, map[string]interface{}{})
		if rec.Code != http.StatusOK {
			t.Fatalf("look #%d expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec = postJSON(t, handler, "/action/look", signupRes.Token, map[string]interface{}{})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the fifth look to return 429, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope envelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Result["error"] != "no AP remaining" {
		t.Fatalf("expected {error:\"no AP remaining\"}, got %v", envelope.Result)
	}
}
