package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncEmitted("file", "terminal")
	RecordTransition("awaiting_approval", "executing")
	IncRejectedUpdate("terminal")
	IncObserverFailure()
	SetLogSize(3)
	AddTrimmed(2)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	wantNames := map[string]bool{
		"llmos_actions_emitted_total":          false,
		"llmos_actions_transitions_total":      false,
		"llmos_actions_rejected_updates_total": false,
		"llmos_observer_failures_total":        false,
		"llmos_actions_log_size":               false,
		"llmos_actions_trimmed_total":          false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), "metric %s has no samples", mf.GetName())
		}
	}
	for n, ok := range wantNames {
		assert.True(t, ok, "expected to find metric %s", n)
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// must not panic
	IncEmitted("ai", "system")
	RecordTransition("executing", "completed")
	SetLogSize(1)
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncEmitted("network", "app")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "llmos_actions_emitted_total"))
}
