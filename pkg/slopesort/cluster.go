package slopesort

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slopesort/slopesort/pkg/vision"
	"k8s.io/klog/v2"
)

// Comparator scores the similarity of two outfit descriptions in [0,1].
// Satisfied by *vision.Client.
type Comparator interface {
	CompareDescriptions(ctx context.Context, a, b string) (float64, string, error)
}

const (
	// earlyExitScore short-circuits the cluster sweep: a near-perfect
	// match does not get better by checking the remaining clusters.
	earlyExitScore = 0.95
	// highWindowFloor is the minimum score inside the THigh window.
	// Sequential gate shots of the same racer land 5-30s apart, which
	// outweighs a mediocre visual comparison.
	highWindowFloor = 0.85
)

// Cluster is a run-local group of single-subject photos believed to
// show the same subject.
type Cluster struct {
	// ID is assigned monotonically and never reused within a run.
	ID int
	// Exemplar is the first detection placed in the cluster; every
	// later member was accepted against it.
	Exemplar vision.Detection
	// Members in assignment order.
	Members []*Image
	// LastSeen is the capture instant of the most recently assigned
	// member that carried one; it is not necessarily the latest instant
	// among members. Zero when no member carried one.
	LastSeen time.Time
	// Bib is the first non-null bib number observed; a naming hint
	// only, never a matching signal.
	Bib string
}

// Clusterer is the online, single-pass clustering state machine. Photos
// are offered in enumeration order; assignment of each observes all
// prior assignments.
type Clusterer struct {
	cmp       Comparator
	threshold float64
	tExact    time.Duration
	tHigh     time.Duration

	mu       sync.Mutex
	clusters []*Cluster
	nextID   int

	compareCalls int
}

// NewClusterer builds a clusterer with the given acceptance threshold
// and timestamp windows. tExact must not exceed tHigh.
func NewClusterer(cmp Comparator, threshold float64, tExact, tHigh time.Duration) *Clusterer {
	return &Clusterer{
		cmp:       cmp,
		threshold: threshold,
		tExact:    tExact,
		tHigh:     tHigh,
		nextID:    1,
	}
}

// Assign places img with its single detection d and capture instant
// img.Taken into the best-scoring existing cluster, or opens a new one.
//
// The score against a cluster follows a strict priority protocol:
//
//  1. Both instants known and within tExact: 1.0, no vision call.
//     Burst photography produces frames fractions of a second apart;
//     nothing visual can outrank that.
//  2. Both instants known and within tHigh: max(highWindowFloor,
//     visual score).
//  3. Otherwise: the visual score alone.
//
// Ties keep the first-created cluster: the sweep runs in creation order
// and only a strictly greater score replaces the running best.
func (c *Clusterer) Assign(ctx context.Context, img *Image, d vision.Detection) *Cluster {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *Cluster
	bestScore := 0.0

	for _, cl := range c.clusters {
		score := c.score(ctx, img, d, cl)
		if score > bestScore {
			bestScore = score
			best = cl
		}
		if score >= earlyExitScore {
			break
		}
	}

	if best != nil && bestScore >= c.threshold {
		klog.V(1).Infof("%s -> cluster %d (score %.2f)", img.RelPath, best.ID, bestScore)
		best.Members = append(best.Members, img)
		if best.Bib == "" && d.Bib() != "" {
			best.Bib = d.Bib()
		} else if d.Bib() != "" && best.Bib != d.Bib() {
			klog.V(1).Infof("cluster %d: bib %s disagrees with first-seen %s, keeping %s", best.ID, d.Bib(), best.Bib, best.Bib)
		}
		if !img.Taken.IsZero() {
			best.LastSeen = img.Taken
		}
		return best
	}

	cl := &Cluster{
		ID:       c.nextID,
		Exemplar: d,
		Members:  []*Image{img},
		LastSeen: img.Taken,
		Bib:      d.Bib(),
	}
	c.nextID++
	c.clusters = append(c.clusters, cl)
	klog.V(1).Infof("%s -> new cluster %d (best score was %.2f, needed %.2f)", img.RelPath, cl.ID, bestScore, c.threshold)
	return cl
}

func (c *Clusterer) score(ctx context.Context, img *Image, d vision.Detection, cl *Cluster) float64 {
	if !img.Taken.IsZero() && !cl.LastSeen.IsZero() {
		gap := img.Taken.Sub(cl.LastSeen)
		if gap < 0 {
			gap = -gap
		}
		if gap <= c.tExact {
			return 1.0
		}
		if gap <= c.tHigh {
			return max(highWindowFloor, c.visual(ctx, d, cl))
		}
	}
	return c.visual(ctx, d, cl)
}

func (c *Clusterer) visual(ctx context.Context, d vision.Detection, cl *Cluster) float64 {
	c.compareCalls++
	score, reason, err := c.cmp.CompareDescriptions(ctx, d.OutfitDescription, cl.Exemplar.OutfitDescription)
	if err != nil {
		klog.Warningf("compare against cluster %d failed, scoring 0: %v", cl.ID, err)
		return 0
	}
	if reason != "" {
		klog.V(2).Infof("cluster %d similarity %.2f: %s", cl.ID, score, reason)
	}
	return score
}

// Clusters returns the cluster list in creation order. No post-hoc
// merging happens at termination; the list is emitted as built.
func (c *Clusterer) Clusters() []*Cluster {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Cluster(nil), c.clusters...)
}

// CompareCalls reports how many visual comparisons were issued.
func (c *Clusterer) CompareCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compareCalls
}

// Names computes display names for every cluster in assignment order:
// Racer_Bib_<bib> when any member contributed a legible bib, else
// Outfit_<id>_<tokens> from the exemplar's dominant feature tokens.
// Collisions gain a numeric suffix.
func (c *Clusterer) Names() map[int]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make(map[int]string, len(c.clusters))
	taken := map[string]bool{}

	for _, cl := range c.clusters {
		var name string
		if cl.Bib != "" {
			name = "Racer_Bib_" + cl.Bib
		} else {
			name = fmt.Sprintf("Outfit_%d", cl.ID)
			if tokens := featureTokens(cl.Exemplar, 3); tokens != "" {
				name += "_" + tokens
			}
		}
		name = SanitizeName(name)

		if taken[name] {
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s_%d", name, n)
				if !taken[candidate] {
					name = candidate
					break
				}
			}
		}
		taken[name] = true
		names[cl.ID] = name
	}
	return names
}
