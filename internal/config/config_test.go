package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 1 || cfg.HashAlgorithm != "sha256" || cfg.Parser.Backend != BackendGRPC {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Parser.MaxMessageBytes != 64<<20 {
		t.Fatalf("max_message_bytes = %d", cfg.Parser.MaxMessageBytes)
	}
	if len(cfg.Boilerplate) == 0 || cfg.SourceExtensions[0] != ".pdf" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	p := write(t, "theparser.yaml", `
root: /srv/patients
workers: 4
hash_algorithm: blake3
detect_removed_sources: true
boilerplate:
  - "Confidential"
parser:
  address: parser:9000
  timeout: 90s
  max_message_bytes: 134217728
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Root != "/srv/patients" || cfg.Workers != 4 || cfg.HashAlgorithm != "blake3" || !cfg.DetectRemovedSources {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Boilerplate) != 1 || cfg.Parser.Address != "parser:9000" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Parser.MaxMessageBytes != 128<<20 {
		t.Fatalf("max_message_bytes = %d", cfg.Parser.MaxMessageBytes)
	}
	if d, _ := cfg.ParserTimeout(); d != 90*time.Second {
		t.Fatalf("timeout = %v", d)
	}
	if cfg.ReportDir != "reports" {
		t.Fatalf("unset fields must keep defaults, report_dir = %q", cfg.ReportDir)
	}
}

func TestLoadJSONC(t *testing.T) {
	p := write(t, "theparser.jsonc", `{
  // documents come from Document AI
  "parser": {
    "backend": "docai",
    "docai": {"project": "p1", "processor": "abc",},
  },
}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	dc := cfg.DocAIConfig()
	if dc.Project != "p1" || dc.Processor != "abc" || dc.Location != "eu" {
		t.Fatalf("docai = %+v", dc)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := write(t, "c.yml", "root: /from/file\nindex_dsn: u:p@tcp(db)/x\n")
	t.Setenv("THEPARSER_ROOT", "/from/env")
	t.Setenv("THEPARSER_PARSER_ADDR", "env:1")
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Root != "/from/env" || cfg.Parser.Address != "env:1" || cfg.IndexDSN != "u:p@tcp(db)/x" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"bad.toml":     "root = 1",
		"algo.yaml":    "hash_algorithm: md5\n",
		"backend.yaml": "parser:\n  backend: ocr\n",
		"docai.yaml":   "parser:\n  backend: docai\n",
		"timeout.yaml": "parser:\n  timeout: soon\n",
		"workers.yaml": "workers: -2\n",
		"message.yaml": "parser:\n  max_message_bytes: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(write(t, name, body)); err == nil {
				t.Fatalf("Load(%s) succeeded", name)
			}
		})
	}
}
