// Package roster is the persistent table of pre-registered subjects
// used by database mode. Each entry maps a name to the canonical visual
// description generated from its reference photo.
package roster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// DefaultFile is the roster location in the working directory.
const DefaultFile = "outfit_roster.json"

// Entry is one registered subject.
type Entry struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	ReferencePaths []string `json:"reference_paths"`
	Notes          string   `json:"notes,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

// entryCompat also accepts the file layout written by earlier versions
// of the tool (single reference_image, facial_description).
type entryCompat struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	ReferencePaths    []string `json:"reference_paths"`
	Notes             string   `json:"notes"`
	CreatedAt         string   `json:"created_at"`
	ReferenceImage    string   `json:"reference_image"`
	FacialDescription string   `json:"facial_description"`
	AddedDate         string   `json:"added_date"`
}

// UnmarshalJSON reads both the current and the legacy entry layouts.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var c entryCompat
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	e.Name = c.Name
	e.Description = c.Description
	e.ReferencePaths = c.ReferencePaths
	e.Notes = c.Notes
	e.CreatedAt = c.CreatedAt

	if e.Description == "" {
		e.Description = c.FacialDescription
	}
	if len(e.ReferencePaths) == 0 && c.ReferenceImage != "" {
		e.ReferencePaths = []string{c.ReferenceImage}
	}
	if e.CreatedAt == "" {
		e.CreatedAt = c.AddedDate
	}
	return nil
}

// Describer generates a canonical description from a reference image.
// Satisfied by the vision client.
type Describer interface {
	Describe(path string) (string, error)
}

// Roster is the loaded table plus its file path.
type Roster struct {
	path    string
	Entries []Entry `json:"people"`
}

type rosterFile struct {
	People []Entry `json:"people"`
}

// Load reads the roster at path. A missing file yields an empty roster.
func Load(path string) (*Roster, error) {
	r := &Roster{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var f rosterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	r.Entries = f.People
	return r, nil
}

// Save writes the roster back to its file.
func (r *Roster) Save() error {
	data, err := json.MarshalIndent(rosterFile{People: r.Entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return nil
}

// Add registers a subject: validates the reference path, generates the
// canonical description, and persists the roster. Names are unique
// case-insensitively.
func (r *Roster) Add(name, referencePath, notes string, d Describer) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if r.Get(name) != nil {
		return fmt.Errorf("%q already exists in the roster", name)
	}

	abs, err := filepath.Abs(referencePath)
	if err != nil {
		return fmt.Errorf("resolve reference path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("reference image not found: %s", abs)
	}

	klog.Infof("generating description for %s from %s", name, abs)
	desc, err := d.Describe(abs)
	if err != nil {
		return fmt.Errorf("describe %s: %w", abs, err)
	}

	r.Entries = append(r.Entries, Entry{
		Name:           name,
		Description:    desc,
		ReferencePaths: []string{abs},
		Notes:          notes,
		CreatedAt:      time.Now().Format(time.RFC3339),
	})
	return r.Save()
}

// Remove deletes a subject by name. Returns false if absent.
func (r *Roster) Remove(name string) (bool, error) {
	kept := r.Entries[:0]
	removed := false
	for _, e := range r.Entries {
		if strings.EqualFold(e.Name, name) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	r.Entries = kept
	if !removed {
		return false, nil
	}
	return true, r.Save()
}

// Get returns the entry for name, or nil.
func (r *Roster) Get(name string) *Entry {
	for i := range r.Entries {
		if strings.EqualFold(r.Entries[i].Name, name) {
			return &r.Entries[i]
		}
	}
	return nil
}

// Descriptions returns the name -> description map the matcher consumes.
func (r *Roster) Descriptions() map[string]string {
	m := make(map[string]string, len(r.Entries))
	for _, e := range r.Entries {
		m[e.Name] = e.Description
	}
	return m
}

// Stats summarizes the roster.
type Stats struct {
	Total  int
	Oldest string
	Newest string
}

// Summarize computes roster statistics.
func (r *Roster) Summarize() Stats {
	s := Stats{Total: len(r.Entries)}
	var oldest, newest time.Time
	for _, e := range r.Entries {
		t, err := time.Parse(time.RFC3339, e.CreatedAt)
		if err != nil {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
			s.Oldest = t.Format("2006-01-02")
		}
		if newest.IsZero() || t.After(newest) {
			newest = t
			s.Newest = t.Format("2006-01-02")
		}
	}
	return s
}

// Validate reports integrity problems: missing fields, missing
// reference images, duplicate names.
func (r *Roster) Validate() []string {
	var issues []string
	seen := map[string]bool{}

	for i, e := range r.Entries {
		prefix := fmt.Sprintf("entry %d (%s)", i+1, e.Name)
		if e.Name == "" {
			issues = append(issues, fmt.Sprintf("entry %d: missing name", i+1))
		}
		if e.Description == "" {
			issues = append(issues, prefix+": missing description")
		}
		if len(e.ReferencePaths) == 0 {
			issues = append(issues, prefix+": no reference images")
		}
		for _, p := range e.ReferencePaths {
			if _, err := os.Stat(p); err != nil {
				issues = append(issues, fmt.Sprintf("%s: reference image not found: %s", prefix, p))
			}
		}

		key := strings.ToLower(e.Name)
		if seen[key] {
			issues = append(issues, fmt.Sprintf("duplicate name: %s", e.Name))
		}
		seen[key] = true
	}
	return issues
}
