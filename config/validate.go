package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	MaxMilestonesLimit    = 1024
	MaxFeedbackBytesLimit = 64 * 1024
)

func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendLevelDB, BackendBolt:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	if c.Jobs.MaxMilestones < 0 || c.Jobs.MaxMilestones > MaxMilestonesLimit {
		return fmt.Errorf("jobs: max_milestones must be within [0,%d]", MaxMilestonesLimit)
	}
	if c.Jobs.MaxFeedbackBytes < 0 || c.Jobs.MaxFeedbackBytes > MaxFeedbackBytesLimit {
		return fmt.Errorf("jobs: max_feedback_bytes must be within [0,%d]", MaxFeedbackBytesLimit)
	}
	q := c.Jobs.Quota
	if (q.MaxPostsPerEpoch > 0 || q.MaxValuePerEpoch > 0) && q.EpochSeconds == 0 {
		return fmt.Errorf("jobs: quota requires epoch_seconds")
	}
	switch c.Proof.Verifier {
	case "none", "digest":
	default:
		return fmt.Errorf("proof: unknown verifier %q", c.Proof.Verifier)
	}
	if c.Jobs.RequireProof && c.Proof.Verifier == "none" {
		return fmt.Errorf("jobs: require_proof needs a verifier other than none")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if gw := strings.TrimSpace(c.Metrics.PushGateway); gw != "" {
		u, err := url.Parse(gw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("metrics: push_gateway must be an http(s) URL")
		}
	}
	return nil
}
