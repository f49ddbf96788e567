package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ActiveSwaps.Set(3)
	m.Aborts.WithLabelValues("test-reason").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
