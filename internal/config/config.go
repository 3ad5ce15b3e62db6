// Package config loads theparser settings from an optional YAML or JSONC
// file, then applies environment overrides. Command-line flags are applied
// last by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/gusmmm/theparser/internal/clean"
	"github.com/gusmmm/theparser/internal/hasher"
	"github.com/gusmmm/theparser/internal/parser"
	"github.com/gusmmm/theparser/internal/workspace"
	pb "github.com/gusmmm/theparser/proto"
)

// Parser backends.
const (
	BackendGRPC  = "grpc"
	BackendDocAI = "docai"
)

// DocAI holds Document AI processor settings.
type DocAI struct {
	Project          string `yaml:"project" json:"project"`
	Location         string `yaml:"location" json:"location"`
	Processor        string `yaml:"processor" json:"processor"`
	ProcessorVersion string `yaml:"processor_version" json:"processor_version"`
}

// Parser selects and configures the parse collaborator.
type Parser struct {
	Backend string `yaml:"backend" json:"backend"`
	Address string `yaml:"address" json:"address"`
	// Timeout is a Go duration string such as "5m".
	Timeout string `yaml:"timeout" json:"timeout"`
	// MaxMessageBytes caps one gRPC request or response.
	MaxMessageBytes int   `yaml:"max_message_bytes" json:"max_message_bytes"`
	DocAI           DocAI `yaml:"docai" json:"docai"`
}

// Config is the full settings tree.
type Config struct {
	Root                 string   `yaml:"root" json:"root"`
	ReportDir            string   `yaml:"report_dir" json:"report_dir"`
	SourceExtensions     []string `yaml:"source_extensions" json:"source_extensions"`
	HashAlgorithm        string   `yaml:"hash_algorithm" json:"hash_algorithm"`
	DetectRemovedSources bool     `yaml:"detect_removed_sources" json:"detect_removed_sources"`
	Workers              int      `yaml:"workers" json:"workers"`
	Boilerplate          []string `yaml:"boilerplate" json:"boilerplate"`
	Parser               Parser   `yaml:"parser" json:"parser"`
	IndexDSN             string   `yaml:"index_dsn" json:"index_dsn"`
	HTTPAddr             string   `yaml:"http_addr" json:"http_addr"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Root:             "data/patients",
		ReportDir:        "reports",
		SourceExtensions: append([]string(nil), workspace.DefaultExtensions...),
		HashAlgorithm:    hasher.DefaultAlgorithm,
		Workers:          1,
		Boilerplate:      append([]string(nil), clean.DefaultBoilerplate...),
		Parser: Parser{
			Backend:         BackendGRPC,
			Address:         "127.0.0.1:50051",
			Timeout:         parser.DefaultTimeout.String(),
			MaxMessageBytes: pb.DefaultMaxMessageBytes,
			DocAI:           DocAI{Location: "eu"},
		},
		HTTPAddr: ":8080",
	}
}

// Load reads path (if not empty) over the defaults and applies environment
// overrides. The file format follows the extension: .yaml and .yml are YAML,
// .json and .jsonc are JSON with comments.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: %s: unsupported format %q", path, filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Root = envOrDefault("THEPARSER_ROOT", c.Root)
	c.Parser.Address = envOrDefault("THEPARSER_PARSER_ADDR", c.Parser.Address)
	c.IndexDSN = envOrDefault("THEPARSER_INDEX_DSN", c.IndexDSN)
	c.Parser.DocAI.Location = envOrDefault("DOCUMENTAI_LOCATION", c.Parser.DocAI.Location)
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: root is empty")
	}
	if _, err := hasher.New(c.HashAlgorithm); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	switch c.Parser.Backend {
	case BackendGRPC:
	case BackendDocAI:
		if c.Parser.DocAI.Project == "" || c.Parser.DocAI.Processor == "" {
			return fmt.Errorf("config: docai backend needs parser.docai.project and parser.docai.processor")
		}
	default:
		return fmt.Errorf("config: unknown parser backend %q", c.Parser.Backend)
	}
	if c.Parser.MaxMessageBytes <= 0 {
		return fmt.Errorf("config: parser.max_message_bytes must be positive, got %d", c.Parser.MaxMessageBytes)
	}
	if _, err := c.ParserTimeout(); err != nil {
		return err
	}
	return nil
}

// ParserTimeout is the parsed per-call parser timeout.
func (c Config) ParserTimeout() (time.Duration, error) {
	if c.Parser.Timeout == "" {
		return parser.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Parser.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid parser timeout %q", c.Parser.Timeout)
	}
	return d, nil
}

// DocAIConfig converts the docai section for the parser package.
func (c Config) DocAIConfig() parser.DocAIConfig {
	d, _ := c.ParserTimeout()
	return parser.DocAIConfig{
		Project:          c.Parser.DocAI.Project,
		Location:         c.Parser.DocAI.Location,
		Processor:        c.Parser.DocAI.Processor,
		ProcessorVersion: c.Parser.DocAI.ProcessorVersion,
		Timeout:          d,
	}
}

// envOrDefault reads an env variable or returns the fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
