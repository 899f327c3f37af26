package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	h := m.Middleware(mux)

	for _, method := range []string{http.MethodPost, http.MethodPost, http.MethodGet} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, "/predict", nil))
	}
	for _, path := range []string{"/wp-login.php", "/admin"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestCount.WithLabelValues("/predict", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestCount.WithLabelValues("/predict", "GET", "405")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestCount.WithLabelValues(unmatchedRoute, "GET", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDuration), "one histogram per route")
}

func TestObservePredictionAndExposition(t *testing.T) {
	m := New()
	m.ObservePrediction("curry")
	m.ObservePrediction("curry")
	m.ObservePrediction("rice")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.predictions.WithLabelValues("curry")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `food_predictions_total{label="rice"} 1`)
}
