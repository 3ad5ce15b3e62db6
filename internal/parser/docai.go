package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"
)

// DocAIConfig names a Document AI processor.
type DocAIConfig struct {
	Project          string
	Location         string
	Processor        string
	ProcessorVersion string
	Timeout          time.Duration
}

// ProcessorName is the fully qualified processor resource name, or "" when
// the config is incomplete.
func (c DocAIConfig) ProcessorName() string {
	project := strings.TrimSpace(c.Project)
	location := strings.TrimSpace(c.Location)
	processor := strings.TrimSpace(c.Processor)
	if project == "" || location == "" || processor == "" {
		return ""
	}
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processor)
	if v := strings.TrimSpace(c.ProcessorVersion); v != "" {
		name += "/processorVersions/" + v
	}
	return name
}

// DocAIClient parses files with Google Document AI, one ProcessDocument
// call per file.
type DocAIClient struct {
	client *documentai.DocumentProcessorClient
	name   string
	cfg    DocAIConfig
}

// NewDocAIClient opens a processor client against the regional endpoint.
func NewDocAIClient(ctx context.Context, cfg DocAIConfig) (*DocAIClient, error) {
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	name := cfg.ProcessorName()
	if name == "" {
		return nil, fmt.Errorf("parser: docai: project, location and processor are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("parser: documentai client: %w", err)
	}
	return &DocAIClient{client: c, name: name, cfg: cfg}, nil
}

// ClientOptionsFromEnv reads GOOGLE_APPLICATION_CREDENTIALS_JSON, then
// GOOGLE_APPLICATION_CREDENTIALS, as inline JSON or a file path.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// Close releases the underlying client.
func (c *DocAIClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Parse processes each path in order.
func (c *DocAIClient) Parse(ctx context.Context, paths []string) ([]Result, error) {
	out := make([]Result, 0, len(paths))
	for _, p := range paths {
		f, err := readFile(p)
		if err != nil {
			return nil, err
		}
		doc, err := c.process(ctx, f.Content, f.MimeType)
		if err != nil {
			return nil, fmt.Errorf("parser: docai %s: %w", f.Name, err)
		}
		res := FromDocument(doc)
		res.FileName = f.Name
		out = append(out, res)
	}
	return out, nil
}

func (c *DocAIClient) process(ctx context.Context, content []byte, mimeType string) (*documentaipb.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	resp, err := c.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: c.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: content, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ProcessDocument: %w", err)
	}
	return resp.GetDocument(), nil
}

// FromDocument converts a Document AI document into a Result. Page text is
// assembled from paragraph anchors; tables are appended to the page markdown.
// Form fields become the page's structured data.
func FromDocument(doc *documentaipb.Document) Result {
	var res Result
	if doc == nil {
		return res
	}
	for i, p := range doc.GetPages() {
		if p == nil {
			continue
		}
		num := int(p.GetPageNumber())
		if num <= 0 {
			num = i + 1
		}
		page := Page{Number: num}

		var text strings.Builder
		for _, para := range p.GetParagraphs() {
			t := strings.TrimSpace(textFromAnchor(doc.GetText(), para.GetLayout().GetTextAnchor()))
			if t == "" {
				continue
			}
			text.WriteString(t)
			text.WriteString("\n")
		}
		page.Text = strPtr(text.String())

		md := text.String()
		for _, table := range p.GetTables() {
			if t := tableToMarkdown(doc.GetText(), table); t != "" {
				md += "\n" + t
			}
		}
		page.Markdown = strPtr(md)

		if fields := formFields(doc.GetText(), p.GetFormFields()); len(fields) > 0 {
			if b, err := json.Marshal(fields); err == nil {
				page.StructuredData = b
			}
		}
		if l := p.GetLayout(); l != nil {
			if b, err := protojson.Marshal(l); err == nil {
				page.Layout = b
			}
		}
		res.Pages = append(res.Pages, page)
	}

	// Some processors fill doc.Text but no page structure.
	if len(res.Pages) == 0 && strings.TrimSpace(doc.GetText()) != "" {
		res.Pages = append(res.Pages, Page{Number: 1, Text: strPtr(doc.GetText())})
	}
	return res
}

type formField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func formFields(full string, ffs []*documentaipb.Document_Page_FormField) []formField {
	var out []formField
	for _, ff := range ffs {
		k := strings.TrimSpace(textFromAnchor(full, ff.GetFieldName().GetTextAnchor()))
		v := strings.TrimSpace(textFromAnchor(full, ff.GetFieldValue().GetTextAnchor()))
		if k == "" && v == "" {
			continue
		}
		out = append(out, formField{Name: k, Value: v})
	}
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}
	var rows [][]string
	for _, r := range t.GetHeaderRows() {
		rows = append(rows, rowCells(full, r))
	}
	for _, r := range t.GetBodyRows() {
		rows = append(rows, rowCells(full, r))
	}
	if len(rows) == 0 {
		return ""
	}
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	if cols == 0 {
		return ""
	}

	var b strings.Builder
	for i, r := range rows {
		for len(r) < cols {
			r = append(r, "")
		}
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
		}
	}
	return b.String()
}

func rowCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	out := make([]string, 0, len(r.GetCells()))
	for _, c := range r.GetCells() {
		cell := strings.TrimSpace(textFromAnchor(full, c.GetLayout().GetTextAnchor()))
		out = append(out, strings.ReplaceAll(cell, "|", "\\|"))
	}
	return out
}
