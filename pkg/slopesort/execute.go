package slopesort

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	cp "github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// ManifestFile records (destination, original) pairs under the output
// root, sufficient to undo a run.
const ManifestFile = ".original_paths.json"

// Manifest is the on-disk undo record. The layout matches what earlier
// versions of the tool wrote.
type Manifest struct {
	Operations []Placement `json:"operations"`
	Mode       string      `json:"mode"` // "copy" or "move"
	Created    string      `json:"created"`
}

// ExecResult summarizes an execution.
type ExecResult struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []ScanError
}

// Execute carries out the plan's placements in order. An individual
// failure is logged and recorded; the run continues. The manifest is
// written atomically after all placements so undo never sees a partial
// record of a finished run.
func Execute(plan *Plan, move bool) (*ExecResult, error) {
	if err := os.MkdirAll(plan.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	mode := "copy"
	if move {
		mode = "move"
	}
	manifest := Manifest{Mode: mode, Created: time.Now().Format(time.RFC3339)}
	res := &ExecResult{Total: len(plan.Placements)}

	for _, pl := range plan.Placements {
		if err := place(pl.Source, pl.Destination, move); err != nil {
			klog.Errorf("%s %s -> %s: %v", mode, pl.Source, pl.Destination, err)
			res.Failed++
			res.Failures = append(res.Failures, ScanError{Path: pl.Source, Err: err.Error()})
			continue
		}
		manifest.Operations = append(manifest.Operations, pl)
		res.Succeeded++
	}

	if err := writeManifest(plan.OutputDir, manifest); err != nil {
		return res, err
	}
	return res, nil
}

func place(src, dst string, move bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if !move {
		return cp.Copy(src, dst, cp.Options{PreserveTimes: true})
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across devices; fall back to copy + remove.
	if err := cp.Copy(src, dst, cp.Options{PreserveTimes: true}); err != nil {
		return err
	}
	return os.Remove(src)
}

func writeManifest(outputDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(outputDir, ManifestFile)
	tmp, err := os.CreateTemp(outputDir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("temp manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the undo record under outputDir.
func ReadManifest(outputDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Undo reverses a previous run using the manifest under outputDir: in
// move mode every destination goes back to its original path, in copy
// mode the destination is deleted. Empty destination directories are
// pruned, and after a clean undo the manifest itself is removed.
func Undo(outputDir string) (*ExecResult, error) {
	m, err := ReadManifest(outputDir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("no manifest in %s, nothing to undo", outputDir)
	}
	if err != nil {
		return nil, err
	}

	res := &ExecResult{Total: len(m.Operations)}
	for _, op := range m.Operations {
		if err := restore(op, m.Mode == "move"); err != nil {
			klog.Errorf("restore %s: %v", op.Destination, err)
			res.Failed++
			res.Failures = append(res.Failures, ScanError{Path: op.Destination, Err: err.Error()})
			continue
		}
		res.Succeeded++
	}

	pruneEmptyDirs(outputDir)

	if res.Failed == 0 {
		if err := os.Remove(filepath.Join(outputDir, ManifestFile)); err != nil && !os.IsNotExist(err) {
			klog.Warningf("remove manifest: %v", err)
		}
	}
	return res, nil
}

func restore(op Placement, moved bool) error {
	if _, err := os.Stat(op.Destination); err != nil {
		return fmt.Errorf("missing: %w", err)
	}
	if !moved {
		return os.Remove(op.Destination)
	}
	if err := os.MkdirAll(filepath.Dir(op.Source), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.Rename(op.Destination, op.Source); err == nil {
		return nil
	}
	if err := cp.Copy(op.Destination, op.Source, cp.Options{PreserveTimes: true}); err != nil {
		return err
	}
	return os.Remove(op.Destination)
}

// pruneEmptyDirs removes now-empty directories under root, deepest
// first. The root itself is kept.
func pruneEmptyDirs(root string) {
	var dirs []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err == nil && len(entries) == 0 {
			if err := os.Remove(d); err != nil {
				klog.V(1).Infof("prune %s: %v", d, err)
			}
		}
	}
}
