package slopesort

import (
	"context"
	"sort"
	"strings"

	"github.com/slopesort/slopesort/pkg/vision"
	"k8s.io/klog/v2"
)

// UnknownToken labels an unmatched detection in a joined name.
const UnknownToken = "Unknown"

// Category routes a photo to its destination bucket.
type Category string

const (
	CategorySingle   Category = "single-subject"
	CategoryMultiple Category = "multiple-subjects"
	CategoryUnknown  Category = "unknown-subjects"
	CategoryNoFaces  Category = "no-faces"
)

// Decision is the classification of one photo.
type Decision struct {
	Image    *Image
	Category Category
	// Name is the destination token: the subject or cluster name for
	// single-subject photos, the joined name list for multi-subject
	// photos, empty otherwise.
	Name string
	// Errored marks photos classified as no-faces because analysis
	// failed rather than because the photo is empty.
	Errored bool
	Err     string
}

// Matcher assigns detections to roster entries (database mode).
type Matcher struct {
	cmp       Comparator
	roster    map[string]string // name -> canonical description
	threshold float64
}

// NewMatcher builds a matcher over the roster's name -> description map.
func NewMatcher(cmp Comparator, roster map[string]string, threshold float64) *Matcher {
	return &Matcher{cmp: cmp, roster: roster, threshold: threshold}
}

// matchOne returns the best-matching roster name for a detection, or ""
// when no entry clears the threshold.
func (m *Matcher) matchOne(ctx context.Context, d vision.Detection) string {
	bestName := ""
	bestScore := 0.0

	// Map iteration order is irrelevant here: assignment goes to the
	// single highest score, and ties across distinct entries are
	// resolved by name to keep runs reproducible.
	for name, desc := range m.roster {
		score, reason, err := m.cmp.CompareDescriptions(ctx, d.OutfitDescription, desc)
		if err != nil {
			klog.Warningf("compare against %s failed, scoring 0: %v", name, err)
			continue
		}
		klog.V(2).Infof("detection vs %s: %.2f %s", name, score, reason)
		if score > bestScore || (score == bestScore && bestName != "" && name < bestName) {
			bestScore = score
			bestName = name
		}
	}

	if bestScore >= m.threshold {
		return bestName
	}
	return ""
}

// Classify turns a photo's detections into a Decision per the database
// protocol: no detections -> no-faces; one matched -> single-subject;
// one unmatched -> unknown-subjects; two or more -> multiple-subjects
// named by the lexicographically sorted matched names, with every
// unmatched position contributing the Unknown token.
func (m *Matcher) Classify(ctx context.Context, img *Image, detections []vision.Detection) Decision {
	switch len(detections) {
	case 0:
		return Decision{Image: img, Category: CategoryNoFaces}
	case 1:
		name := m.matchOne(ctx, detections[0])
		if name == "" {
			return Decision{Image: img, Category: CategoryUnknown}
		}
		return Decision{Image: img, Category: CategorySingle, Name: name}
	}

	var matched []string
	unknowns := 0
	for _, d := range detections {
		if name := m.matchOne(ctx, d); name != "" {
			matched = append(matched, name)
		} else {
			unknowns++
		}
	}
	sort.Strings(matched)
	for i := 0; i < unknowns; i++ {
		matched = append(matched, UnknownToken)
	}
	return Decision{Image: img, Category: CategoryMultiple, Name: strings.Join(matched, "_")}
}
