package slopesort

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Mode selects how single-subject photos are grouped.
type Mode string

const (
	// ModeDatabase matches detections against the roster.
	ModeDatabase Mode = "database"
	// ModeAutoCluster groups photos online without a roster.
	ModeAutoCluster Mode = "auto-cluster"
)

// Default thresholds. Auto mode is intentionally looser than database
// mode: clustering compares against the exemplar of a still-growing
// group, not a curated reference description.
const (
	DefaultDatabaseConfidence = 0.7
	DefaultAutoConfidence     = 0.5
)

// Config is the resolved run configuration.
type Config struct {
	SourceDir string
	OutputDir string
	Mode      Mode
	Move      bool // copy when false
	DryRun    bool
	Recursive bool

	// Confidence is the acceptance threshold for both modes.
	Confidence float64
	// TExact and THigh are the timestamp windows of clustering rules 1
	// and 2. Invariant: TExact <= THigh.
	TExact time.Duration
	THigh  time.Duration

	// MaxPayloadMB and MaxDimension bound the encoded payload sent to
	// the vision backend.
	MaxPayloadMB float64
	MaxDimension int

	RetryAttempts int
	RetryDelay    time.Duration
	VisionTimeout time.Duration
	GeminiAPIKey  string
	GeminiModel   string
	CachePath     string
	RosterPath    string
	ConfidenceSet bool // true when the user overrode the mode default
}

// Environment keys.
const (
	envConfidence    = "VISION_CONFIDENCE_THRESHOLD"
	envTExact        = "T_EXACT_SECONDS"
	envTHigh         = "T_HIGH_SECONDS"
	envMaxImageMB    = "MAX_IMAGE_MB"
	envMaxImageDim   = "MAX_IMAGE_DIM"
	envRetryAttempts = "RETRY_ATTEMPTS"
	envRetryDelay    = "RETRY_DELAY"
	envVisionTimeout = "VISION_TIMEOUT_SECONDS"
	envGeminiAPIKey  = "GEMINI_API_KEY"
	envGeminiModel   = "GEMINI_MODEL"
)

// LoadConfig resolves configuration from the environment, leaving
// CLI-provided fields (paths, mode, flags) to the caller.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetDefault(envTExact, 10)
	v.SetDefault(envTHigh, 30)
	v.SetDefault(envMaxImageMB, 5.0)
	v.SetDefault(envMaxImageDim, 8000)
	v.SetDefault(envRetryAttempts, 3)
	v.SetDefault(envRetryDelay, 2)
	v.SetDefault(envVisionTimeout, 60)
	v.SetDefault(envGeminiModel, "flash")
	v.AutomaticEnv()

	c := &Config{
		Mode:          ModeDatabase,
		Recursive:     true,
		TExact:        time.Duration(v.GetInt(envTExact)) * time.Second,
		THigh:         time.Duration(v.GetInt(envTHigh)) * time.Second,
		MaxPayloadMB:  v.GetFloat64(envMaxImageMB),
		MaxDimension:  v.GetInt(envMaxImageDim),
		RetryAttempts: v.GetInt(envRetryAttempts),
		RetryDelay:    time.Duration(v.GetInt(envRetryDelay)) * time.Second,
		VisionTimeout: time.Duration(v.GetInt(envVisionTimeout)) * time.Second,
		GeminiAPIKey:  v.GetString(envGeminiAPIKey),
		GeminiModel:   v.GetString(envGeminiModel),
	}

	if v.IsSet(envConfidence) {
		c.Confidence = v.GetFloat64(envConfidence)
		c.ConfidenceSet = true
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveConfidence applies the mode-dependent default when the user
// did not override the threshold.
func (c *Config) ResolveConfidence() {
	if c.ConfidenceSet {
		return
	}
	if c.Mode == ModeAutoCluster {
		c.Confidence = DefaultAutoConfidence
	} else {
		c.Confidence = DefaultDatabaseConfidence
	}
	c.ConfidenceSet = true
}

// Validate rejects configurations the engine cannot honor.
func (c *Config) Validate() error {
	if c.ConfidenceSet && (c.Confidence < 0 || c.Confidence > 1) {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.Confidence)
	}
	if c.TExact < 0 || c.THigh < 0 {
		return fmt.Errorf("timestamp windows must be non-negative")
	}
	if c.TExact > c.THigh {
		return fmt.Errorf("%s (%s) must not exceed %s (%s)", envTExact, c.TExact, envTHigh, c.THigh)
	}
	if c.MaxPayloadMB <= 0 {
		return fmt.Errorf("%s must be positive, got %v", envMaxImageMB, c.MaxPayloadMB)
	}
	if c.MaxDimension <= 0 {
		return fmt.Errorf("%s must be positive, got %d", envMaxImageDim, c.MaxDimension)
	}
	return nil
}
