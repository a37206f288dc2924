package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(keyExchangeTasks.WithLabelValues("missingKeys"))
	KeyExchangeTask("missingKeys")
	KeyExchangeTask("missingKeys")
	require.Equal(t, before+2, testutil.ToFloat64(keyExchangeTasks.WithLabelValues("missingKeys")))

	TrackedStreams(3)
	require.Equal(t, 3.0, testutil.ToFloat64(trackedStreams))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	SolicitationSent()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "strand_key_solicitations_sent_total")
}
