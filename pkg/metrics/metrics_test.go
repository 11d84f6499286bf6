package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "entity_store_probe_total", Help: "test"})

	require.NoError(t, m.Register(c))
	require.NoError(t, m.Register(c))
	c.Inc()

	n, err := testutil.GatherAndCount(reg, "entity_store_probe_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
