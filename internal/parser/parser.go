// Package parser is the boundary to the external document-parsing service.
//
// A Client turns one batch of source files into one Result per file, in
// request order. Optional per-page outputs are explicit nil-able fields.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	pb "github.com/gusmmm/theparser/proto"
)

// ErrResultCount means the backend returned a different number of results
// than files submitted.
var ErrResultCount = errors.New("parser: result count mismatch")

// Client parses one batch of files.
type Client interface {
	Parse(ctx context.Context, paths []string) ([]Result, error)
}

// Page is one parsed page. A nil field means the backend produced nothing
// for that slot; an empty string means it produced an empty page.
type Page struct {
	Number         int
	Text           *string
	Markdown       *string
	Layout         json.RawMessage
	StructuredData json.RawMessage
}

// Image is an extracted picture.
type Image struct {
	Name    string
	Page    int
	Content []byte
}

// Result is the parse output of one source file.
type Result struct {
	FileName string
	Pages    []Page
	Images   []Image
}

// Stem is the file name without its extension. It names the output folder.
func (r Result) Stem() string {
	base := filepath.Base(r.FileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CheckCount verifies one result per submitted file.
func CheckCount(paths []string, results []Result) error {
	if len(results) != len(paths) {
		return fmt.Errorf("%w: %d files, %d results", ErrResultCount, len(paths), len(results))
	}
	return nil
}

func fromProto(in pb.Result) Result {
	out := Result{FileName: in.FileName, Pages: make([]Page, 0, len(in.Pages))}
	for _, p := range in.Pages {
		out.Pages = append(out.Pages, Page{
			Number:         p.Number,
			Text:           p.Text,
			Markdown:       p.Markdown,
			Layout:         p.Layout,
			StructuredData: p.StructuredData,
		})
	}
	for _, img := range in.Images {
		out.Images = append(out.Images, Image{Name: img.Name, Page: img.Page, Content: img.Content})
	}
	return out
}

// readFile loads a source file and guesses its MIME type from the extension,
// falling back to content sniffing.
func readFile(path string) (pb.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pb.File{}, fmt.Errorf("parser: read %s: %w", filepath.Base(path), err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return pb.File{Name: filepath.Base(path), MimeType: mt, Content: data}, nil
}

func strPtr(s string) *string { return &s }
