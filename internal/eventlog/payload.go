package eventlog

import "encoding/json"

// FileDigest records one consumed source file.
type FileDigest struct {
	Name        string `json:"name"`
	Digest      string `json:"digest"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// ParsePayload is the payload of a parse event.
type ParsePayload struct {
	Files       []FileDigest `json:"files"`
	Algorithm   string       `json:"algorithm,omitempty"`
	ResultCount int          `json:"result_count"`
	Documents   []string     `json:"documents,omitempty"`
}

// Digests maps file name to recorded digest.
func (p ParsePayload) Digests() map[string]string {
	out := make(map[string]string, len(p.Files))
	for _, f := range p.Files {
		out[f.Name] = f.Digest
	}
	return out
}

// MergePayload is the payload of a merge event.
type MergePayload struct {
	Artifact       string         `json:"artifact"`
	CategoryCounts map[string]int `json:"category_counts"`
	TotalDocuments int            `json:"total_documents"`
	TotalPages     int            `json:"total_pages"`
	Placeholders   int            `json:"placeholders,omitempty"`
}

// CleanPayload is the payload of a clean event.
type CleanPayload struct {
	Source        string         `json:"source"`
	Output        string         `json:"output"`
	Removals      map[string]int `json:"removals"`
	TotalRemovals int            `json:"total_removals"`
	Changed       bool           `json:"changed"`
}

// ParsePayload decodes the payload of a parse event. ok is false for other
// event types or an undecodable payload.
func (e Event) ParsePayload() (p ParsePayload, ok bool) {
	ok = e.Type == TypeParse && e.decode(&p)
	return p, ok
}

// MergePayload decodes the payload of a merge event.
func (e Event) MergePayload() (p MergePayload, ok bool) {
	ok = e.Type == TypeMerge && e.decode(&p)
	return p, ok
}

// CleanPayload decodes the payload of a clean event.
func (e Event) CleanPayload() (p CleanPayload, ok bool) {
	ok = e.Type == TypeClean && e.decode(&p)
	return p, ok
}

func (e Event) decode(v any) bool {
	if len(e.Payload) == 0 {
		return false
	}
	return json.Unmarshal(e.Payload, v) == nil
}
