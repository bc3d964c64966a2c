// Package config provides configuration loading for the Novion
// segmentation service. A single Config is populated once at process
// start, from defaults, an optional YAML file, and the environment,
// then passed down explicitly; no component reads environment
// variables at call sites.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by ApplyEnv. The two batch-size
// names are alternates; the first set and parsable wins.
const (
	EnvSliceBatchSize  = "BP_SLICE_BATCH_SIZE"
	EnvSliceBatch      = "BP_SLICE_BATCH"
	EnvValidateHeatmap = "BP_VALIDATE_HEATMAP"
	EnvCheckpointPath  = "BP3D_CKPT"
)

// Config is the full service configuration.
type Config struct {
	Server struct {
		// ListenAddr is the HTTP bind address.
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"server"`

	Model struct {
		// CheckpointPath is the segmentation model checkpoint. Its
		// existence is verified when the model handle is first used.
		CheckpointPath string `yaml:"checkpointPath"`

		// Endpoint is the URL of the model inference sidecar.
		Endpoint string `yaml:"endpoint"`
	} `yaml:"model"`

	Inference struct {
		// TargetSize is the square model input resolution.
		TargetSize int `yaml:"targetSize"`

		// Threshold gates both voxel probabilities and slice existence.
		Threshold float64 `yaml:"threshold"`

		// SliceBatchSize overrides the slice batch heuristic when
		// positive. Zero means resolve automatically.
		SliceBatchSize int `yaml:"sliceBatchSize"`
	} `yaml:"inference"`

	Artifacts struct {
		// Dir is the controlled directory holding result archives.
		Dir string `yaml:"dir"`

		// ValidateHeatmap enables the post-write integrity check on
		// probability artifacts.
		ValidateHeatmap bool `yaml:"validateHeatmap"`

		// IndexPath is the SQLite retention index. Empty disables
		// retention tracking.
		IndexPath string `yaml:"indexPath"`

		// RetentionTTL is the artifact lifetime enforced by the sweep
		// command. Zero disables sweeping.
		RetentionTTL time.Duration `yaml:"retentionTTL"`
	} `yaml:"artifacts"`
}

// Default returns the configuration defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.ListenAddr = ":8088"
	cfg.Inference.TargetSize = 512
	cfg.Inference.Threshold = 0.5
	cfg.Artifacts.Dir = "tmp/biomedparse"
	cfg.Artifacts.ValidateHeatmap = true
	return cfg
}

// Load reads configuration from a YAML file layered over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv layers environment overrides onto the config using the
// provided lookup (usually os.LookupEnv).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if n := batchSizeFromEnv(lookup); n > 0 {
		c.Inference.SliceBatchSize = n
	}
	if v, ok := lookup(EnvValidateHeatmap); ok {
		c.Artifacts.ValidateHeatmap = parseBoolFlag(v)
	}
	if v, ok := lookup(EnvCheckpointPath); ok && v != "" {
		c.Model.CheckpointPath = v
	}
}

// batchSizeFromEnv returns the first positive integer found among the
// two alternate batch-size variables, checked in fixed precedence
// order. Non-positive or unparsable values fall through.
func batchSizeFromEnv(lookup func(string) (string, bool)) int {
	for _, key := range []string{EnvSliceBatchSize, EnvSliceBatch} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			continue
		}
		return n
	}
	return 0
}

func parseBoolFlag(v string) bool {
	switch v {
	case "1", "true", "True", "TRUE":
		return true
	}
	return false
}
