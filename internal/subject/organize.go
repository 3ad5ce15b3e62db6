package subject

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gusmmm/theparser/internal/fsutil"
)

// Moved describes one file relocated by Organize.
type Moved struct {
	Subject string
	Name    string
	From    string
	To      string
}

// Organize moves loose source files in root whose names start with four
// digits into root/<first four digits>/. A file already present at the
// destination is left where it is. Files without a four-digit prefix are
// skipped and logged.
func Organize(root string, exts []string, logger *slog.Logger) ([]Moved, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("subject: organize: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && hasExt(e.Name(), exts) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var moved []Moved
	for _, name := range names {
		if len(name) < 4 || !allDigits(name[:4]) {
			logger.Warn("skipping file without subject prefix", slog.String("file", name))
			continue
		}
		id := name[:4]
		dir := filepath.Join(root, id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return moved, fmt.Errorf("subject: organize mkdir %s: %w", id, err)
		}
		from := filepath.Join(root, name)
		to := filepath.Join(dir, name)
		if fsutil.Exists(to) {
			logger.Warn("destination exists, leaving file in place",
				slog.String("subject_id", id),
				slog.String("file", name),
			)
			continue
		}
		if err := os.Rename(from, to); err != nil {
			return moved, fmt.Errorf("subject: organize move %s: %w", name, err)
		}
		logger.Info("moved source file", slog.String("subject_id", id), slog.String("file", name))
		moved = append(moved, Moved{Subject: id, Name: name, From: from, To: to})
	}
	return moved, nil
}
