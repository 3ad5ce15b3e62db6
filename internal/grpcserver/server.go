// Package grpcserver implements the parse service for plain-text sources.
//
// It is the local backend used in development and tests: .txt and .md files
// are split into pages on form feeds. PDFs are left to a real document
// parser.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	pb "github.com/gusmmm/theparser/proto"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Backend is the name reported by Capabilities.
const Backend = "plaintext"

// DefaultMaxFiles caps one batch.
const DefaultMaxFiles = 64

// ServerOptions sets the receive and send message limits. n <= 0 uses
// pb.DefaultMaxMessageBytes.
func ServerOptions(n int) []grpc.ServerOption {
	if n <= 0 {
		n = pb.DefaultMaxMessageBytes
	}
	return []grpc.ServerOption{grpc.MaxRecvMsgSize(n), grpc.MaxSendMsgSize(n)}
}

var (
	errUnsupported = errors.New("unsupported file type")
	errEmptyBatch  = errors.New("no files in request")
	errTooMany     = errors.New("too many files in request")
	errNotUTF8     = errors.New("content is not valid UTF-8")
)

const pageBreak = "\f"

// Server implements the ParseServiceServer gRPC interface.
// Dependencies are injected via the constructor, no global state.
type Server struct {
	logger   *slog.Logger
	maxFiles int
}

// NewServer creates a parse server. maxFiles <= 0 uses DefaultMaxFiles.
func NewServer(logger *slog.Logger, maxFiles int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &Server{logger: logger, maxFiles: maxFiles}
}

// Extensions lists the file extensions this backend accepts.
func Extensions() []string {
	return []string{".md", ".txt"}
}

// Capabilities describes the backend.
func (s *Server) Capabilities(context.Context, *pb.CapabilitiesRequest) (*pb.CapabilitiesResponse, error) {
	return &pb.CapabilitiesResponse{Backend: Backend, Extensions: Extensions(), MaxFiles: s.maxFiles}, nil
}

// ParseDocuments parses every file in the batch. One bad file fails the
// whole call: the caller treats a batch as a unit.
func (s *Server) ParseDocuments(ctx context.Context, req *pb.ParseRequest) (*pb.ParseResponse, error) {
	start := time.Now()
	s.logger.Info("grpc ParseDocuments",
		slog.String("subject_id", req.Subject),
		slog.Int("files", len(req.Files)),
	)

	switch {
	case len(req.Files) == 0:
		return nil, mapParseError(errEmptyBatch, "ParseDocuments")
	case len(req.Files) > s.maxFiles:
		return nil, mapParseError(fmt.Errorf("%w: %d > %d", errTooMany, len(req.Files), s.maxFiles), "ParseDocuments")
	}

	resp := &pb.ParseResponse{Results: make([]pb.Result, 0, len(req.Files))}
	for _, f := range req.Files {
		if err := ctx.Err(); err != nil {
			return nil, mapParseError(err, "ParseDocuments")
		}
		res, err := parseFile(f)
		if err != nil {
			return nil, mapParseError(fmt.Errorf("%s: %w", f.Name, err), "ParseDocuments")
		}
		resp.Results = append(resp.Results, res)
	}

	s.logger.Info("grpc ParseDocuments done",
		slog.String("subject_id", req.Subject),
		slog.Int("results", len(resp.Results)),
		slog.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

func parseFile(f pb.File) (pb.Result, error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if !supported(ext) {
		return pb.Result{}, fmt.Errorf("%w %q", errUnsupported, ext)
	}
	if !utf8.Valid(f.Content) {
		return pb.Result{}, errNotUTF8
	}

	chunks := strings.Split(string(f.Content), pageBreak)
	// A trailing form feed does not start a new page.
	if len(chunks) > 1 && strings.TrimSpace(chunks[len(chunks)-1]) == "" {
		chunks = chunks[:len(chunks)-1]
	}

	res := pb.Result{FileName: f.Name, Pages: make([]pb.Page, 0, len(chunks))}
	for i, chunk := range chunks {
		text := chunk
		page := pb.Page{Number: i + 1, Text: &text}
		if ext == ".md" {
			md := chunk
			page.Markdown = &md
		}
		page.Layout = layoutOf(chunk)
		res.Pages = append(res.Pages, page)
	}
	return res, nil
}

type layout struct {
	Lines    int      `json:"lines"`
	Chars    int      `json:"chars"`
	Headings []string `json:"headings,omitempty"`
}

func layoutOf(page string) json.RawMessage {
	l := layout{Chars: utf8.RuneCountInString(page)}
	for _, line := range strings.Split(page, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		l.Lines++
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "#") {
			l.Headings = append(l.Headings, strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
		}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil
	}
	return b
}

func supported(ext string) bool {
	exts := Extensions()
	i := sort.SearchStrings(exts, ext)
	return i < len(exts) && exts[i] == ext
}

// mapParseError converts parse errors to proper gRPC status codes.
func mapParseError(err error, method string) error {
	switch {
	case errors.Is(err, errUnsupported), errors.Is(err, errEmptyBatch), errors.Is(err, errNotUTF8):
		return status.Errorf(codes.InvalidArgument, "%s: %v", method, err)
	case errors.Is(err, errTooMany):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", method, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: parse timeout", method)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: canceled", method)
	}
	return status.Errorf(codes.Internal, "%s: %v", method, err)
}
