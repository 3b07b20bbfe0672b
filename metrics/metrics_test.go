package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(InstrumentHandler)
	r.HandleFunc("/api/atendimentos/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/atendimentos/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, r)
	assert.Contains(t, body, `atende_http_requests_total{method="GET",path="/api/atendimentos/{id}",status="404"}`)
	assert.NotContains(t, body, `path="/api/atendimentos/abc"`)
}

func TestDomainCounters(t *testing.T) {
	RecordAssignment("assigned")
	RecordCheckoutSession(true)
	RecordCheckoutSession(false)
	RecordWebhook("applied")
	RecordTransition("finalizado")
	SetQueueDepth(3)

	body := scrape(t, Handler())
	assert.Contains(t, body, `atende_assignment_attempts_total{result="assigned"}`)
	assert.Contains(t, body, `atende_assignment_queue_depth 3`)
	assert.Contains(t, body, `atende_checkout_sessions_total{result="error"}`)
	assert.Contains(t, body, `atende_checkout_webhooks_total{outcome="applied"}`)
	assert.Contains(t, body, `atende_tickets_transitions_total{to="finalizado"}`)
}
