package slopesort

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ReportFile is the post-run log artifact under the output root.
const ReportFile = "organization_log.json"

// ImageOutcome is the per-image line of the report.
type ImageOutcome struct {
	Path     string   `json:"path"`
	Category Category `json:"category"`
	Label    string   `json:"label,omitempty"`
	Cached   bool     `json:"cached,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ConfigSnapshot records the settings a run actually used.
type ConfigSnapshot struct {
	Mode       Mode    `json:"mode"`
	Operation  string  `json:"operation"`
	Confidence float64 `json:"confidence_threshold"`
	TExactSec  int     `json:"t_exact_seconds"`
	THighSec   int     `json:"t_high_seconds"`
	Recursive  bool    `json:"recursive"`
	SourceDir  string  `json:"source_dir"`
	OutputDir  string  `json:"output_dir"`
}

// Report is the structured log artifact written after a run.
type Report struct {
	RunID     string         `json:"run_id"`
	Timestamp string         `json:"timestamp"`
	Config    ConfigSnapshot `json:"config"`

	Stats struct {
		TotalImages  int `json:"total_images"`
		Placed       int `json:"placed"`
		PlaceFailed  int `json:"place_failed"`
		CacheHits    int `json:"cache_hits"`
		VisionCalls  int `json:"vision_calls"`
		CompareCalls int `json:"compare_calls"`
	} `json:"statistics"`

	Categories map[Category]int `json:"categories"`
	Clusters   map[string]int   `json:"clusters,omitempty"`
	Images     []ImageOutcome   `json:"images"`
	Errors     []ScanError      `json:"errors,omitempty"`
}

// NewReport builds an empty report stamped with a fresh run id.
func NewReport(snapshot ConfigSnapshot) *Report {
	return &Report{
		RunID:      uuid.NewString(),
		Timestamp:  time.Now().Format(time.RFC3339),
		Config:     snapshot,
		Categories: map[Category]int{},
	}
}

// Write persists the report to the output root.
func (r *Report) Write(outputDir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(outputDir, ReportFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	klog.Infof("report saved to %s", path)
	return nil
}
