// Package slopesort organizes a directory tree of photographs into
// per-subject subdirectories. Subjects are identified by delegating
// face/outfit analysis to an external vision service; photos of the
// same subject are grouped either against a pre-registered roster
// (database mode) or by online clustering (auto mode).
package slopesort

import (
	"time"
)

// Image is one candidate photograph. Created by enumeration, discarded
// after placement. Analysis fills in Hash and Taken; no other field
// changes after enumeration.
type Image struct {
	// Path is the canonical absolute path of the original file.
	Path string
	// RelPath is Path relative to the scanned root, kept for reporting.
	RelPath string
	// Hash is the sha256 of the original file bytes; the cache key.
	Hash string
	// Taken is the capture instant. The zero value means unknown.
	Taken time.Time
	// Format is the lowercase extension without the dot ("jpg", "heic").
	Format string
}
