package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestExportWritesTextfile(t *testing.T) {
	Jobs().ObserveCommand("accept", "ok", time.Millisecond)
	path := filepath.Join(t.TempDir(), "jobd.prom")

	require.NoError(t, Export(context.Background(), nil, ExportOptions{Textfile: path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "jobchain_jobs_commands_total")

	mf := findFamily(t, "jobchain_jobs_commands_total")
	require.Equal(t, dto.MetricType_COUNTER, mf.GetType())
	var accepted float64
	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["kind"] == "accept" && labels["outcome"] == "ok" {
			accepted = m.GetCounter().GetValue()
		}
	}
	require.GreaterOrEqual(t, accepted, 1.0)
}

func TestExportPushesToGateway(t *testing.T) {
	Jobs().ObserveCommand("post", "ok", time.Millisecond)

	var (
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := Export(context.Background(), nil, ExportOptions{PushGateway: srv.URL, Instance: "node-a"})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, method)
	require.Equal(t, "/metrics/job/jobd/instance/node-a", path)
	require.NotEmpty(t, body)
}

func TestExportReportsGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := ExportOptions{PushGateway: srv.URL, Job: "custom"}
	require.True(t, opts.Enabled())
	require.Error(t, Export(context.Background(), nil, opts))
	require.False(t, ExportOptions{}.Enabled())
}
