package slopesort

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/slopesort/slopesort/pkg/vision"
)

// Destination bucket directories under the output root.
const (
	MultipleDir = "Multiple_People"
	UnknownDir  = "Unknown_Faces"
	NoFacesDir  = "No_Faces_Detected"
)

var unsafeRunes = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeName restricts a destination token to [A-Za-z0-9._-],
// replacing everything else with underscores. Empty names become
// Unknown.
func SanitizeName(name string) string {
	safe := unsafeRunes.ReplaceAllString(name, "_")
	safe = strings.Trim(safe, ". ")
	if safe == "" {
		return UnknownToken
	}
	return safe
}

// featureTokens builds the short lexicographic token string used in
// Outfit_N names: up to limit dominant feature tokens of the exemplar,
// spaces squeezed out, sorted, joined by underscores.
func featureTokens(d vision.Detection, limit int) string {
	var tokens []string
	for _, raw := range d.FeatureTokens() {
		tok := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	sort.Strings(tokens)
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return strings.Join(tokens, "_")
}

// Placement is one planned file operation.
type Placement struct {
	Source      string   `json:"source"`
	Category    Category `json:"category"`
	Label       string   `json:"label"`
	Destination string   `json:"destination"`
}

// Plan is an ordered set of placements under one output root.
type Plan struct {
	OutputDir  string
	Placements []Placement

	reserved map[string]bool
}

// NewPlan converts classification decisions into placements. Decisions
// are processed in order; file-name collisions inside a destination
// directory are resolved with numeric suffixes against both the names
// this plan already reserved and the existing filesystem.
func NewPlan(outputDir string, decisions []Decision) (*Plan, error) {
	absOut, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}

	p := &Plan{OutputDir: absOut, reserved: map[string]bool{}}
	for _, d := range decisions {
		dir, label := p.destination(d)
		dst := p.reserve(filepath.Join(dir, filepath.Base(d.Image.Path)))
		p.Placements = append(p.Placements, Placement{
			Source:      d.Image.Path,
			Category:    d.Category,
			Label:       label,
			Destination: dst,
		})
	}
	return p, nil
}

// destination maps a decision to its directory and report label.
func (p *Plan) destination(d Decision) (dir, label string) {
	switch d.Category {
	case CategorySingle:
		name := SanitizeName(d.Name)
		return filepath.Join(p.OutputDir, name), name
	case CategoryMultiple:
		// Auto mode has no names for multi-subject photos; they land
		// in the bucket directory itself.
		if d.Name == "" {
			return filepath.Join(p.OutputDir, MultipleDir), MultipleDir
		}
		name := SanitizeName(d.Name)
		return filepath.Join(p.OutputDir, MultipleDir, name), name
	case CategoryUnknown:
		return filepath.Join(p.OutputDir, UnknownDir), UnknownDir
	default:
		return filepath.Join(p.OutputDir, NoFacesDir), NoFacesDir
	}
}

// reserve claims a destination path, suffixing _2, _3, ... until it is
// free both in the plan and on disk.
func (p *Plan) reserve(path string) string {
	candidate := path
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	for n := 2; p.reserved[candidate] || exists(candidate); n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	p.reserved[candidate] = true
	return candidate
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CountByCategory tallies placements per destination category.
func (p *Plan) CountByCategory() map[Category]int {
	counts := map[Category]int{}
	for _, pl := range p.Placements {
		counts[pl.Category]++
	}
	return counts
}
