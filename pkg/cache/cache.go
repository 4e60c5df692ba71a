// Package cache is a content-addressed store of per-image analysis
// results. For a given (content-hash, prompt-kind) pair the vision call
// is issued at most once over the lifetime of the cache file.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/klog/v2"
)

// DefaultFile is the cache location in the working directory.
const DefaultFile = ".outfit_detection_cache.json"

// flushEvery is how many successful puts trigger a flush.
const flushEvery = 5

// Store is a persistent mapping content-hash -> prompt-kind -> payload.
// Payloads are kept as raw JSON so entries written by newer versions
// survive a read/write cycle untouched.
type Store struct {
	path string

	mu      sync.RWMutex
	entries map[string]map[string]json.RawMessage
	pending int
}

// Load reads the cache at path. A missing file yields an empty store;
// a corrupt file is logged and replaced by an empty store, matching the
// delete-the-file-to-recompute contract.
func Load(path string) (*Store, error) {
	s := &Store{path: path, entries: map[string]map[string]json.RawMessage{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		klog.Warningf("cache %s is corrupted, starting fresh: %v", path, err)
		s.entries = map[string]map[string]json.RawMessage{}
	}
	return s, nil
}

// Get decodes the payload for (hash, kind) into v. The bool reports
// whether an entry existed.
func (s *Store) Get(hash, kind string, v any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kinds, ok := s.entries[hash]
	if !ok {
		return false, nil
	}
	raw, ok := kinds[kind]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode cache entry %s/%s: %w", hash, kind, err)
	}
	return true, nil
}

// Put stores the payload for (hash, kind) and flushes every few entries
// so a cancelled run keeps most of its work.
func (s *Store) Put(hash, kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	s.mu.Lock()
	if s.entries[hash] == nil {
		s.entries[hash] = map[string]json.RawMessage{}
	}
	s.entries[hash][kind] = raw
	s.pending++
	flush := s.pending >= flushEvery
	if flush {
		s.pending = 0
	}
	s.mu.Unlock()

	if flush {
		if err := s.Flush(); err != nil {
			// The in-memory cache stays authoritative; the next
			// successful flush supersedes this one.
			klog.Warningf("cache flush failed: %v", err)
		}
	}
	return nil
}

// Len returns the number of cached images.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Flush writes the cache to disk via a temp file and rename, so readers
// never observe a partial document.
func (s *Store) Flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cache-*")
	if err != nil {
		return fmt.Errorf("temp cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// Close flushes any buffered entries.
func (s *Store) Close() error {
	s.mu.RLock()
	pending := s.pending
	s.mu.RUnlock()
	if pending == 0 {
		return nil
	}
	return s.Flush()
}
