package slopesort

import (
	"context"
	"time"

	"github.com/slopesort/slopesort/pkg/cache"
	"github.com/slopesort/slopesort/pkg/vision"
	"k8s.io/klog/v2"
)

// VisionService is the engine's contract with the vision backend.
// Satisfied by *vision.Client.
type VisionService interface {
	DescribeOneFace(ctx context.Context, mime string, data []byte) (string, error)
	DetectAllSubjects(ctx context.Context, mime string, data []byte) ([]vision.Detection, error)
	CompareDescriptions(ctx context.Context, a, b string) (float64, string, error)
}

// TimeSource resolves capture instants. Satisfied by
// *TimestampExtractor; the zero time means unknown.
type TimeSource interface {
	CaptureTime(path string) time.Time
}

// Runner drives one organize run end to end.
type Runner struct {
	Config *Config
	Vision VisionService
	Cache  *cache.Store
	Times  TimeSource
	// RosterDescriptions is required in database mode: name -> canonical
	// description.
	RosterDescriptions map[string]string
}

// RunResult is everything a caller needs to summarize, execute-check,
// and pick an exit code.
type RunResult struct {
	Plan         *Plan
	Exec         *ExecResult // nil on dry runs
	Decisions    []Decision
	Clusters     []*Cluster     // auto mode only
	ClusterNames map[int]string // auto mode only
	Errors       []ScanError    // decode + analysis failures
	ScanErrors   []ScanError
	VisionCalls  int
	CacheHits    int
	CompareCalls int
	Report       *Report // nil on dry runs
}

// Partial reports whether the run completed with at least one analysis
// or placement failure.
func (r *RunResult) Partial() bool {
	if len(r.Errors) > 0 {
		return true
	}
	return r.Exec != nil && r.Exec.Failed > 0
}

// outcome carries the per-image state between the analysis pass and the
// final decision list. Auto-mode singles resolve their name only after
// ingest finishes and cluster names are computed.
type outcome struct {
	decision Decision
	cluster  *Cluster
	cached   bool
}

// Run executes the pipeline: enumerate, analyze (cache-first),
// classify, plan, and unless dry-run, execute and report. Cancellation
// is honored between image iterations; partial progress stays
// committed via the cache's periodic flush.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	images, scanErrs, err := Find(r.Config.SourceDir, r.Config.Recursive)
	if err != nil {
		return nil, err
	}
	klog.Infof("found %d images under %s", len(images), r.Config.SourceDir)

	res := &RunResult{ScanErrors: scanErrs}

	var clusterer *Clusterer
	var matcher *Matcher
	if r.Config.Mode == ModeAutoCluster {
		clusterer = NewClusterer(r.Vision, r.Config.Confidence, r.Config.TExact, r.Config.THigh)
	} else {
		matcher = NewMatcher(r.Vision, r.RosterDescriptions, r.Config.Confidence)
	}

	outcomes := make([]outcome, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			r.closeCache()
			return nil, err
		}

		o, fatal := r.analyzeAndClassify(ctx, img, clusterer, matcher, res)
		if fatal != nil {
			r.closeCache()
			return nil, fatal
		}
		outcomes = append(outcomes, o)
	}
	r.closeCache()

	if clusterer != nil {
		res.Clusters = clusterer.Clusters()
		res.ClusterNames = clusterer.Names()
		res.CompareCalls = clusterer.CompareCalls()
	}

	for _, o := range outcomes {
		d := o.decision
		if o.cluster != nil {
			d.Name = res.ClusterNames[o.cluster.ID]
		}
		res.Decisions = append(res.Decisions, d)
	}

	plan, err := NewPlan(r.Config.OutputDir, res.Decisions)
	if err != nil {
		return nil, err
	}
	res.Plan = plan

	if r.Config.DryRun {
		return res, nil
	}

	exec, err := Execute(plan, r.Config.Move)
	if err != nil {
		return nil, err
	}
	res.Exec = exec

	res.Report = r.buildReport(res, outcomes)
	if err := res.Report.Write(plan.OutputDir); err != nil {
		klog.Errorf("report: %v", err)
	}
	return res, nil
}

// analyzeAndClassify resolves detections for one image (cache first)
// and classifies it. The second return value is non-nil only for fatal
// vision errors, which abort the run.
func (r *Runner) analyzeAndClassify(ctx context.Context, img *Image, clusterer *Clusterer, matcher *Matcher, res *RunResult) (outcome, error) {
	hash, err := ContentHash(img.Path)
	if err != nil {
		klog.Warningf("skipping %s: %v", img.Path, err)
		res.Errors = append(res.Errors, ScanError{Path: img.Path, Err: err.Error()})
		return outcome{decision: Decision{Image: img, Category: CategoryNoFaces, Errored: true, Err: err.Error()}}, nil
	}
	img.Hash = hash

	var detections []vision.Detection
	hit, err := r.Cache.Get(hash, vision.KindDetectSubjects, &detections)
	if err != nil {
		klog.Warningf("cache read for %s: %v", img.Path, err)
		hit = false
	}

	cached := hit
	if !hit {
		detections, err = r.analyze(ctx, img, hash, res)
		if err != nil {
			if vision.IsFatal(err) {
				return outcome{}, err
			}
			klog.Warningf("analysis failed for %s: %v", img.Path, err)
			res.Errors = append(res.Errors, ScanError{Path: img.Path, Err: err.Error()})
			return outcome{decision: Decision{Image: img, Category: CategoryNoFaces, Errored: true, Err: err.Error()}}, nil
		}
	} else {
		res.CacheHits++
	}

	img.Taken = r.Times.CaptureTime(img.Path)

	if matcher != nil {
		return outcome{decision: matcher.Classify(ctx, img, detections), cached: cached}, nil
	}

	// Auto mode: only single-detection photos drive clustering.
	switch len(detections) {
	case 0:
		return outcome{decision: Decision{Image: img, Category: CategoryNoFaces}, cached: cached}, nil
	case 1:
		cl := clusterer.Assign(ctx, img, detections[0])
		return outcome{decision: Decision{Image: img, Category: CategorySingle}, cluster: cl, cached: cached}, nil
	default:
		return outcome{decision: Decision{Image: img, Category: CategoryMultiple}, cached: cached}, nil
	}
}

// analyze prepares the payload, calls the vision service, and caches
// the result.
func (r *Runner) analyze(ctx context.Context, img *Image, hash string, res *RunResult) ([]vision.Detection, error) {
	payload, err := LoadPayload(img.Path, r.Config.MaxDimension, r.Config.MaxPayloadMB)
	if err != nil {
		return nil, err
	}

	res.VisionCalls++
	detections, err := r.Vision.DetectAllSubjects(ctx, payload.MIME, payload.Data)
	if err != nil {
		return nil, err
	}

	if detections == nil {
		detections = []vision.Detection{}
	}
	if err := r.Cache.Put(hash, vision.KindDetectSubjects, detections); err != nil {
		klog.Warningf("cache write for %s: %v", img.Path, err)
	}
	return detections, nil
}

func (r *Runner) closeCache() {
	if err := r.Cache.Close(); err != nil {
		klog.Warningf("cache close: %v", err)
	}
}

func (r *Runner) buildReport(res *RunResult, outcomes []outcome) *Report {
	op := "copy"
	if r.Config.Move {
		op = "move"
	}
	rep := NewReport(ConfigSnapshot{
		Mode:       r.Config.Mode,
		Operation:  op,
		Confidence: r.Config.Confidence,
		TExactSec:  int(r.Config.TExact / time.Second),
		THighSec:   int(r.Config.THigh / time.Second),
		Recursive:  r.Config.Recursive,
		SourceDir:  r.Config.SourceDir,
		OutputDir:  r.Config.OutputDir,
	})

	rep.Stats.TotalImages = len(res.Decisions)
	rep.Stats.CacheHits = res.CacheHits
	rep.Stats.VisionCalls = res.VisionCalls
	rep.Stats.CompareCalls = res.CompareCalls
	if res.Exec != nil {
		rep.Stats.Placed = res.Exec.Succeeded
		rep.Stats.PlaceFailed = res.Exec.Failed
	}

	rep.Categories = res.Plan.CountByCategory()

	if len(res.Clusters) > 0 {
		rep.Clusters = map[string]int{}
		for _, cl := range res.Clusters {
			rep.Clusters[res.ClusterNames[cl.ID]] = len(cl.Members)
		}
	}

	for i, d := range res.Decisions {
		rep.Images = append(rep.Images, ImageOutcome{
			Path:     d.Image.Path,
			Category: d.Category,
			Label:    d.Name,
			Cached:   outcomes[i].cached,
			Error:    d.Err,
		})
	}

	rep.Errors = append(rep.Errors, res.ScanErrors...)
	rep.Errors = append(rep.Errors, res.Errors...)
	if res.Exec != nil {
		rep.Errors = append(rep.Errors, res.Exec.Failures...)
	}
	return rep
}
