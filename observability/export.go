package observability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// ExportOptions selects where a short-lived process leaves its metrics before
// exiting. Empty destinations are skipped.
type ExportOptions struct {
	// PushGateway is the base URL of a Prometheus Pushgateway.
	PushGateway string
	// Job is the pushgateway job label. Defaults to "jobd".
	Job string
	// Instance optionally adds an instance grouping label.
	Instance string
	// Textfile is written in the text exposition format for the
	// node_exporter textfile collector.
	Textfile string
}

// Enabled reports whether any destination is configured.
func (o ExportOptions) Enabled() bool {
	return strings.TrimSpace(o.PushGateway) != "" || strings.TrimSpace(o.Textfile) != ""
}

// Export gathers g (the default registry when nil) and hands the result to
// every configured destination.
func Export(ctx context.Context, g prometheus.Gatherer, opts ExportOptions) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	var errs []error
	if url := strings.TrimSpace(opts.PushGateway); url != "" {
		job := strings.TrimSpace(opts.Job)
		if job == "" {
			job = "jobd"
		}
		pusher := push.New(url, job).Gatherer(g)
		if instance := strings.TrimSpace(opts.Instance); instance != "" {
			pusher = pusher.Grouping("instance", instance)
		}
		if err := pusher.AddContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("push metrics: %w", err))
		}
	}
	if path := strings.TrimSpace(opts.Textfile); path != "" {
		if err := prometheus.WriteToTextfile(path, g); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	return errors.Join(errs...)
}
