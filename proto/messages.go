package proto

import "encoding/json"

// File is one document submitted for parsing.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Content  []byte `json:"content"`
}

// ParseRequest carries one batch of files, normally every source of a subject.
type ParseRequest struct {
	Subject string `json:"subject,omitempty"`
	Files   []File `json:"files"`
}

// Page is one parsed page. Optional fields are nil when the backend did not
// produce them.
type Page struct {
	Number         int             `json:"number"`
	Text           *string         `json:"text,omitempty"`
	Markdown       *string         `json:"markdown,omitempty"`
	Layout         json.RawMessage `json:"layout,omitempty"`
	StructuredData json.RawMessage `json:"structured_data,omitempty"`
}

// Image is a picture extracted from a document.
type Image struct {
	Name    string `json:"name"`
	Page    int    `json:"page,omitempty"`
	Content []byte `json:"content,omitempty"`
}

// Result is the parse output of one file, in request order.
type Result struct {
	FileName string  `json:"file_name"`
	Pages    []Page  `json:"pages"`
	Images   []Image `json:"images,omitempty"`
}

// ParseResponse holds one result per requested file.
type ParseResponse struct {
	Results []Result `json:"results"`
}

// CapabilitiesRequest is empty.
type CapabilitiesRequest struct{}

// CapabilitiesResponse describes the backend.
type CapabilitiesResponse struct {
	Backend    string   `json:"backend"`
	Extensions []string `json:"extensions"`
	MaxFiles   int      `json:"max_files,omitempty"`
}
