package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.IncOperation("send", "ok")
	m.IncOperation("send", "ok")
	m.IncOperation("confirm", "TIMEOUT")
	m.IncTokenCatalog("error")
	m.IncRun("swap", "ok")
	m.ObserveSettlement(3 * time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.operations.WithLabelValues("send", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("confirm", "TIMEOUT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tokenCatalog.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("swap", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["aaswap_settlement_seconds"])
	assert.True(t, names["aaswap_user_operations_total"])
}

func TestNoopMetricsSatisfiesGenerator(t *testing.T) {
	var g MetricsGenerator = NoopMetrics{}
	g.IncOperation("sign", "ok")
	g.ObserveSettlement(time.Second)
	g.IncTokenCatalog("ok")
	g.IncRun("share", "failed")
}
