package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestJobMetricsCountCommands(t *testing.T) {
	m := Jobs()
	require.Same(t, m, Jobs())

	before := testutil.ToFloat64(m.commands.WithLabelValues("post", "ok"))
	m.ObserveCommand("post", "", 5*time.Millisecond)
	m.ObserveCommand("post", "ok", time.Millisecond)
	require.Equal(t, before+2, testutil.ToFloat64(m.commands.WithLabelValues("post", "ok")))

	rejected := testutil.ToFloat64(m.commands.WithLabelValues("unknown", "invalid_state"))
	m.ObserveCommand(" ", "invalid_state", 0)
	require.Equal(t, rejected+1, testutil.ToFloat64(m.commands.WithLabelValues("unknown", "invalid_state")))

	throttled := testutil.ToFloat64(m.throttles.WithLabelValues("unspecified"))
	m.RecordThrottle("")
	require.Equal(t, throttled+1, testutil.ToFloat64(m.throttles.WithLabelValues("unspecified")))

	var nilMetrics *JobMetrics
	require.NotPanics(t, func() { nilMetrics.RecordTransition("completed") })
}

func TestEscrowMetricsRecordValue(t *testing.T) {
	m := Escrow()
	count := testutil.ToFloat64(m.transfers.WithLabelValues("release"))
	value := testutil.ToFloat64(m.value.WithLabelValues("release"))

	m.RecordTransfer(" Release ", big.NewInt(40))
	m.RecordTransfer("release", nil)

	require.Equal(t, count+2, testutil.ToFloat64(m.transfers.WithLabelValues("release")))
	require.Equal(t, value+40, testutil.ToFloat64(m.value.WithLabelValues("release")))
}

func TestBigToFloat(t *testing.T) {
	require.Zero(t, bigToFloat(nil))
	require.Equal(t, float64(1e18), bigToFloat(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	require.Zero(t, bigToFloat(huge))
}
