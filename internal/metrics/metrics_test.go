package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.LoginAttempt(ResultSuccess)
	m.LoginAttempt(ResultInvalid)
	m.LoginAttempt(ResultInvalid)
	m.Logout()
	m.SessionRejected("expired")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.loginAttempts.WithLabelValues(ResultSuccess)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.loginAttempts.WithLabelValues(ResultInvalid)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.logouts))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessionsRejected.WithLabelValues("expired")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LoginAttempt(ResultSuccess)
	m.Logout()
	m.SessionRejected("invalid")
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Logout()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "university_logouts_total 1"))
}
