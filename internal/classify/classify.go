// Package classify groups a subject's parsed document folders into the fixed
// clinical categories.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gusmmm/theparser/internal/fsutil"
)

// Category is one of the fixed document classes.
type Category string

const (
	CategoryE   Category = "E"
	CategoryA   Category = "A"
	CategoryBIC Category = "BIC"
	CategoryO   Category = "O"
)

// Order is the clinical ordering used when merging. It is not alphabetical.
var Order = []Category{CategoryE, CategoryA, CategoryBIC, CategoryO}

// matchOrder lists suffixes most specific first so a multi-letter suffix is
// never shadowed by a single-letter one.
var matchOrder = []Category{CategoryBIC, CategoryE, CategoryA, CategoryO}

// Page subdirectories written by the parse stage.
const (
	MarkdownDir = "markdown"
	TextDir     = "text"
)

// Folder is one parsed source document.
type Folder struct {
	Name     string
	Path     string
	Category Category
}

// Result is the classification of one subject directory.
type Result struct {
	Folders      map[Category][]Folder
	Unrecognized []string
}

// Total is the number of classified folders.
func (r Result) Total() int {
	n := 0
	for _, fs := range r.Folders {
		n += len(fs)
	}
	return n
}

// Counts returns the per-category folder counts, including zeros.
func (r Result) Counts() map[string]int {
	out := make(map[string]int, len(Order))
	for _, c := range Order {
		out[string(c)] = len(r.Folders[c])
	}
	return out
}

// CategoryOf matches the folder name against the known suffixes. The suffix
// must be the whole name or follow a digit or one of "_-. ".
func CategoryOf(name string) (Category, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, c := range matchOrder {
		suffix := string(c)
		if !strings.HasSuffix(upper, suffix) {
			continue
		}
		rest := upper[:len(upper)-len(suffix)]
		if rest == "" {
			return c, true
		}
		switch last := rest[len(rest)-1]; {
		case last >= '0' && last <= '9', last == '_', last == '-', last == '.', last == ' ':
			return c, true
		}
	}
	return "", false
}

// Classify scans dir for parsed document folders and groups them by category.
// Folders with no recognizable suffix are listed in Unrecognized and excluded.
func Classify(dir string) (Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("classify: read dir: %w", err)
	}
	res := Result{Folders: make(map[Category][]Folder)}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !IsDocumentFolder(path) {
			continue
		}
		c, ok := CategoryOf(e.Name())
		if !ok {
			res.Unrecognized = append(res.Unrecognized, e.Name())
			continue
		}
		res.Folders[c] = append(res.Folders[c], Folder{Name: e.Name(), Path: path, Category: c})
	}
	for c := range res.Folders {
		fs := res.Folders[c]
		sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
	}
	sort.Strings(res.Unrecognized)
	return res, nil
}

// IsDocumentFolder reports whether path holds parse output pages.
func IsDocumentFolder(path string) bool {
	for _, sub := range []string{MarkdownDir, TextDir} {
		if fsutil.IsDir(filepath.Join(path, sub)) {
			return true
		}
	}
	return false
}

// Page is one page of a document folder. Err is set when the page file is
// missing or unreadable; Text is then empty.
type Page struct {
	Number int
	// Through is set on a placeholder that stands for the missing range
	// Number..Through.
	Through int
	Text    string
	Err     error
}

// MaxGapPlaceholders is the longest run of missing pages reported one by
// one. Longer runs collapse into a single range placeholder.
const MaxGapPlaceholders = 32

func appendGap(pages []Page, from, to int) []Page {
	if to < from {
		return pages
	}
	if to-from+1 > MaxGapPlaceholders {
		return append(pages, Page{Number: from, Through: to, Err: fmt.Errorf("pages %d-%d: %w", from, to, os.ErrNotExist)})
	}
	for n := from; n <= to; n++ {
		pages = append(pages, Page{Number: n, Err: fmt.Errorf("page %d: %w", n, os.ErrNotExist)})
	}
	return pages
}

var pageFile = regexp.MustCompile(`^page_(\d+)\.(md|txt)$`)

// Pages returns the folder's pages in ascending page-number order. Markdown
// pages are preferred; text pages fill in numbers that have no markdown.
// Gaps between 1 and the highest page number are returned as missing pages;
// a gap longer than MaxGapPlaceholders becomes one range placeholder.
func (f Folder) Pages() ([]Page, error) {
	files := make(map[int]string)
	for _, sub := range []string{MarkdownDir, TextDir} {
		entries, err := os.ReadDir(filepath.Join(f.Path, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			m := pageFile.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			if _, seen := files[n]; !seen {
				files[n] = filepath.Join(f.Path, sub, e.Name())
			}
		}
	}
	if len(files) == 0 {
		return nil, nil
	}

	numbers := make([]int, 0, len(files))
	for n := range files {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	pages := make([]Page, 0, len(numbers))
	prev := 0
	for _, n := range numbers {
		pages = appendGap(pages, prev+1, n-1)
		prev = n
		data, err := os.ReadFile(files[n])
		if err != nil {
			pages = append(pages, Page{Number: n, Err: fmt.Errorf("page %d: %w", n, err)})
			continue
		}
		pages = append(pages, Page{Number: n, Text: string(data)})
	}
	return pages, nil
}
