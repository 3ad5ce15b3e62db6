// Package subject models a processing unit ("subject"): a directory under the
// root named by a short numeric ID that owns its source files, parse outputs,
// event log and derived artifacts.
package subject

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidID is returned for IDs that are not 3 or 4 ASCII digits.
var ErrInvalidID = errors.New("subject: invalid id")

const (
	mergedSuffix  = "_merged_medical_records.md"
	cleanedSuffix = "_merged_medical_records.cleaned.md"
)

// Subject is one unit of work rooted at Dir.
type Subject struct {
	ID  string
	Dir string
}

// New returns the subject with the given ID under root.
func New(root, id string) (Subject, error) {
	if !ValidID(id) {
		return Subject{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return Subject{ID: id, Dir: filepath.Join(root, id)}, nil
}

// ValidID reports whether id is 3 or 4 ASCII digits.
func ValidID(id string) bool {
	if len(id) != 3 && len(id) != 4 {
		return false
	}
	return allDigits(id)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// yearDigits is the number of leading ID digits that encode the year.
func (s Subject) yearDigits() int {
	switch len(s.ID) {
	case 4:
		return 2
	case 3:
		return 1
	default:
		return 0
	}
}

// Year derives the admission year from the leading digits of the ID:
// "2401" → 2024, "999" → 2009. IDs of other lengths map to 2000.
func (s Subject) Year() int {
	n := s.yearDigits()
	if n == 0 {
		return 2000
	}
	v, err := strconv.Atoi(s.ID[:n])
	if err != nil {
		return 2000
	}
	return 2000 + v
}

// Serial is the part of the ID after the year digits.
func (s Subject) Serial() string {
	return s.ID[s.yearDigits():]
}

// MergedName is the file name of the merged artifact.
func (s Subject) MergedName() string { return s.ID + mergedSuffix }

// CleanedName is the file name of the cleaned artifact.
func (s Subject) CleanedName() string { return s.ID + cleanedSuffix }

// MergedPath is the absolute path of the merged artifact.
func (s Subject) MergedPath() string { return filepath.Join(s.Dir, s.MergedName()) }

// CleanedPath is the absolute path of the cleaned artifact.
func (s Subject) CleanedPath() string { return filepath.Join(s.Dir, s.CleanedName()) }

// SourceFile is one input document of a subject.
type SourceFile struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Digest string `json:"digest,omitempty"`
}

// Sources lists the regular files directly under the subject directory whose
// extension (case-insensitive) is one of exts, sorted by name.
func (s Subject) Sources(exts []string) ([]SourceFile, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("subject: read dir %s: %w", s.ID, err)
	}
	var out []SourceFile
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !hasExt(e.Name(), exts) {
			continue
		}
		out = append(out, SourceFile{Name: e.Name(), Path: filepath.Join(s.Dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Discover lists every subject directory under root, ordered by ID.
func Discover(root string) ([]Subject, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("subject: read root: %w", err)
	}
	var out []Subject
	for _, e := range entries {
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		out = append(out, Subject{ID: e.Name(), Dir: filepath.Join(root, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
