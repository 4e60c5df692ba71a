package slopesort

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// supportedExts are the image formats the engine accepts.
var supportedExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".heic": true,
	".heif": true,
}

// skipNames are junk files that look like images to nobody.
var skipNames = map[string]bool{
	"Thumbs.db": true,
	".DS_Store": true,
}

// ScanError records a file the walk could not read.
type ScanError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Find enumerates candidate image files under root in lexicographic
// order. Hidden files, temp files and unsupported formats are skipped
// silently; unreadable entries are recorded and skipped.
func Find(root string, recursive bool) ([]*Image, []ScanError, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %q: %w", root, err)
	}

	st, err := os.Stat(absRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("source directory: %w", err)
	}
	if !st.IsDir() {
		return nil, nil, fmt.Errorf("not a directory: %s", absRoot)
	}

	var found []*Image
	var scanErrs []ScanError

	err = godirwalk.Walk(absRoot, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			base := filepath.Base(path)

			if de.IsDir() {
				if path == absRoot {
					return nil
				}
				if !recursive || strings.HasPrefix(base, ".") {
					return filepath.SkipDir
				}
				return nil
			}

			if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") || skipNames[base] {
				return godirwalk.SkipThis
			}

			ext := strings.ToLower(filepath.Ext(base))
			if !supportedExts[ext] {
				return godirwalk.SkipThis
			}

			rel, err := filepath.Rel(absRoot, path)
			if err != nil {
				return err
			}

			klog.V(1).Infof("found %s", path)
			found = append(found, &Image{
				Path:    path,
				RelPath: rel,
				Format:  strings.TrimPrefix(ext, "."),
			})
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			klog.Warningf("scan %s: %v", path, err)
			scanErrs = append(scanErrs, ScanError{Path: path, Err: err.Error()})
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, scanErrs, fmt.Errorf("walk %s: %w", absRoot, err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, scanErrs, nil
}
