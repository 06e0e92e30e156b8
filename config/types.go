package config

import (
	"fmt"
	"strings"
)

// Storage selects the database backing the job ledger.
type Storage struct {
	// Backend is one of memory, leveldb or bolt.
	Backend string `toml:"Backend" yaml:"Backend"`
	// Path overrides the database location derived from DataDir.
	Path string `toml:"Path,omitempty" yaml:"Path,omitempty"`
}

// Log controls the structured logger.
type Log struct {
	Level string `toml:"Level" yaml:"Level"`
	File  string `toml:"File,omitempty" yaml:"File,omitempty"`
	Env   string `toml:"Env,omitempty" yaml:"Env,omitempty"`
}

// Quota bounds how many postings, and how much value, one employer may post
// per epoch. Zero limits disable the quota.
type Quota struct {
	MaxPostsPerEpoch uint32 `toml:"MaxPostsPerEpoch" yaml:"MaxPostsPerEpoch"`
	MaxValuePerEpoch uint64 `toml:"MaxValuePerEpoch" yaml:"MaxValuePerEpoch"` // base units
	EpochSeconds     uint32 `toml:"EpochSeconds" yaml:"EpochSeconds"`         // e.g., 3600
}

// Jobs captures the lifecycle policy knobs.
type Jobs struct {
	MaxMilestones    int   `toml:"MaxMilestones" yaml:"MaxMilestones"`
	RequireProof     bool  `toml:"RequireProof" yaml:"RequireProof"`
	MaxFeedbackBytes int   `toml:"MaxFeedbackBytes" yaml:"MaxFeedbackBytes"`
	Quota            Quota `toml:"Quota" yaml:"Quota"`
}

// Proof selects the verifier consulted for proof-carrying postings.
type Proof struct {
	// Verifier is none or digest.
	Verifier string `toml:"Verifier" yaml:"Verifier"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint,omitempty" yaml:"Endpoint,omitempty"`
	Insecure    bool    `toml:"Insecure" yaml:"Insecure"`
	Headers     string  `toml:"Headers,omitempty" yaml:"Headers,omitempty"`
	Traces      bool    `toml:"Traces" yaml:"Traces"`
	Metrics     bool    `toml:"Metrics" yaml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio,omitempty" yaml:"SampleRatio,omitempty"`
}

// Metrics selects where each invocation leaves its Prometheus metrics on
// exit. Both destinations are optional.
type Metrics struct {
	PushGateway string `toml:"PushGateway,omitempty" yaml:"PushGateway,omitempty"`
	Job         string `toml:"Job,omitempty" yaml:"Job,omitempty"`
	Instance    string `toml:"Instance,omitempty" yaml:"Instance,omitempty"`
	Textfile    string `toml:"Textfile,omitempty" yaml:"Textfile,omitempty"` // node_exporter textfile collector
}

// Pauses lists modules an operator switched off.
type Pauses struct {
	Jobs bool `toml:"Jobs" yaml:"Jobs" json:"jobs"`
}

// IsPaused reports whether module is paused. It satisfies common.PauseView.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "jobs":
		return p.Jobs
	default:
		return false
	}
}

// Set changes the toggle of module. Unknown modules are rejected.
func (p *Pauses) Set(module string, paused bool) error {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "jobs":
		p.Jobs = paused
		return nil
	default:
		return fmt.Errorf("pauses: unknown module %q", module)
	}
}
