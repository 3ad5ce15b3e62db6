package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gusmmm/theparser/internal/classify"
	"github.com/gusmmm/theparser/internal/fsutil"
)

// Output subdirectories of a document folder besides the page text ones
// defined by classify.
const (
	LayoutDir     = "layout"
	StructuredDir = "structured_data"
	ImagesDir     = "images"
	DebugFile     = "results_debug.json"
)

// Writer saves parse results as document folders under a subject directory.
type Writer struct {
	Logger *slog.Logger
}

type debugInfo struct {
	FileName    string `json:"file_name"`
	Subject     string `json:"subject"`
	PagesCount  int    `json:"pages_count"`
	TextPages   int    `json:"text_pages"`
	MarkdownPgs int    `json:"markdown_pages"`
	LayoutPages int    `json:"layout_pages"`
	Structured  int    `json:"structured_pages"`
	Images      int    `json:"images"`
}

// WriteResult writes r into <dir>/<stem>/ and returns that folder. Page
// subdirectories from an earlier parse are replaced so that a shorter
// document leaves no stale pages behind.
func (w *Writer) WriteResult(dir, subjectID string, r Result) (string, error) {
	stem := r.Stem()
	if stem == "" || stem == "." {
		return "", fmt.Errorf("parser: write result: empty file name")
	}
	folder := filepath.Join(dir, stem)
	for _, sub := range []string{classify.TextDir, classify.MarkdownDir, LayoutDir, StructuredDir, ImagesDir} {
		if err := os.RemoveAll(filepath.Join(folder, sub)); err != nil {
			return "", fmt.Errorf("parser: reset %s: %w", sub, err)
		}
	}

	info := debugInfo{FileName: stem, Subject: subjectID, PagesCount: len(r.Pages), Images: len(r.Images)}
	for i, p := range r.Pages {
		n := p.Number
		if n <= 0 {
			n = i + 1
		}
		if p.Text != nil {
			if err := w.put(folder, classify.TextDir, fmt.Sprintf("page_%d.txt", n), []byte(*p.Text)); err != nil {
				return "", err
			}
			info.TextPages++
		}
		if p.Markdown != nil {
			if err := w.put(folder, classify.MarkdownDir, fmt.Sprintf("page_%d.md", n), []byte(*p.Markdown)); err != nil {
				return "", err
			}
			info.MarkdownPgs++
		}
		if len(p.Layout) > 0 {
			if err := w.put(folder, LayoutDir, fmt.Sprintf("page_%d_layout.json", n), indentJSON(p.Layout)); err != nil {
				return "", err
			}
			info.LayoutPages++
		}
		if len(p.StructuredData) > 0 {
			if err := w.put(folder, StructuredDir, fmt.Sprintf("page_%d_structured_data.json", n), indentJSON(p.StructuredData)); err != nil {
				return "", err
			}
			info.Structured++
		}
	}
	for i, img := range r.Images {
		name := filepath.Base(img.Name)
		if name == "" || name == "." {
			name = fmt.Sprintf("image_%d.bin", i+1)
		}
		if err := w.put(folder, ImagesDir, name, img.Content); err != nil {
			return "", err
		}
	}

	debug, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("parser: marshal debug info: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(folder, DebugFile), append(debug, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("parser: write debug info: %w", err)
	}

	w.logger().Debug("document folder written",
		slog.String("subject_id", subjectID),
		slog.String("folder", stem),
		slog.Int("pages", len(r.Pages)),
	)
	return folder, nil
}

func (w *Writer) put(folder, sub, name string, data []byte) error {
	if err := fsutil.WriteFileAtomic(filepath.Join(folder, sub, name), data, 0o644); err != nil {
		return fmt.Errorf("parser: write %s/%s: %w", sub, name, err)
	}
	return nil
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// indentJSON pretty-prints valid JSON and returns anything else unchanged.
func indentJSON(raw json.RawMessage) []byte {
	var b bytes.Buffer
	if err := json.Indent(&b, raw, "", "  "); err != nil {
		return raw
	}
	b.WriteByte('\n')
	return b.Bytes()
}
