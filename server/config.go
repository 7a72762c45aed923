package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Listen       string        `json:"listen"`       // eg ":8090"
	Model        string        `json:"model"`        // Detector identifier. See nnload.LoadDetector
	Tiled        bool          `json:"tiled"`        // Run the detector over tiles, for frames much larger than the model input
	Threads      int           `json:"threads"`      // Concurrent tiles, when Tiled is true
	ModelCache   string        `json:"modelCache"`   // Where downloaded models are kept
	Confidence   float32       `json:"confidence"`   // Default confidence threshold for runs that don't specify one
	ReportEvery  int           `json:"reportEvery"`  // Default progress cadence, in frames
	MaxRuns      int           `json:"maxRuns"`      // Maximum number of concurrent active runs
	KeepFinished int           `json:"keepFinished"` // Number of finished runs that remain queryable. Older ones are forgotten when a new run starts.
	InputRoot    string        `json:"inputRoot"`    // File inputs must live inside this directory
	AllowLive    bool          `json:"allowLive"`    // Allow device and network stream inputs
	ScratchDir   string        `json:"scratchDir"`   // Where outputs are written before they are published
	RateLimit    int           `json:"rateLimit"`    // Maximum run submissions per minute, per IP. Zero disables the limit.
	VideoStorage StorageConfig `json:"videoStorage"` // Where finished videos are published
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Public bool   `json:"public"` // Whether the bucket is public. This allows us to give clients direct URLs into GCS, instead of passing the data through our service
}

func DefaultConfig() Config {
	return Config{
		Listen:       ":8090",
		Threads:      2,
		Confidence:   0.5,
		ReportEvery:  30,
		MaxRuns:      2,
		KeepFinished: 20,
		ScratchDir:   filepath.Join(os.TempDir(), "plateblur"),
		RateLimit:    20,
	}
}

// LoadConfig reads a JSON config file. Missing fields take their default values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	cfgB, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfgB, &cfg); err != nil {
		return nil, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config file %v: %w", configFile, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("'model' must be specified")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("'confidence' %v is outside the range [0,1]", c.Confidence)
	}
	if c.MaxRuns < 1 {
		return fmt.Errorf("'maxRuns' must be at least 1")
	}
	if c.KeepFinished < 0 {
		return fmt.Errorf("'keepFinished' may not be negative")
	}
	if c.ScratchDir == "" {
		return fmt.Errorf("'scratchDir' must be specified")
	}
	if c.VideoStorage.Filesystem == nil && c.VideoStorage.GCS == nil {
		return fmt.Errorf("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}
	return nil
}
