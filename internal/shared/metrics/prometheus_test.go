package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/rooms/{roomID}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/rooms/{roomID}/messages", "418"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/4b0f6c1e-0000-4000-8000-000000000000/messages", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/rooms/{roomID}/messages", "418"))
	assert.Equal(t, before+1, after)
}

func TestAuthorizationDecisionLabels(t *testing.T) {
	deny := authorizationDecisions.WithLabelValues("chat_room", "access", "deny")
	before := testutil.ToFloat64(deny)

	RecordAuthorizationDecision("chat_room", "access", false)

	assert.Equal(t, before+1, testutil.ToFloat64(deny))
}
