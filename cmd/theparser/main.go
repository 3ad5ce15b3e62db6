// theparser
//
// Entry point: scans the subject root, builds the processing plan and runs
// parse, merge and clean. "theparser serve" exposes the read-only status API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gusmmm/theparser/internal/clean"
	"github.com/gusmmm/theparser/internal/config"
	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/hasher"
	"github.com/gusmmm/theparser/internal/merge"
	"github.com/gusmmm/theparser/internal/parser"
	"github.com/gusmmm/theparser/internal/pipeline"
	"github.com/gusmmm/theparser/internal/plan"
	"github.com/gusmmm/theparser/internal/report"
	"github.com/gusmmm/theparser/internal/reporter"
	"github.com/gusmmm/theparser/internal/repository"
	"github.com/gusmmm/theparser/internal/staleness"
	"github.com/gusmmm/theparser/internal/subject"
	"github.com/gusmmm/theparser/internal/workspace"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without process globals. It returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "serve" {
		return serve(ctx, args[1:], stdout, stderr)
	}

	fs := pflag.NewFlagSet("theparser", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	parseOnly := fs.Bool("parse-only", false, "run only the parse stage")
	mergeOnly := fs.Bool("merge-only", false, "run only the merge stage")
	cleanOnly := fs.Bool("clean-only", false, "run only the clean stage")
	full := fs.Bool("full", false, "run parse, merge and clean (default)")
	force := fs.Bool("force", false, "rerun stages whose output already exists")
	skipExisting := fs.Bool("skip-existing", true, "skip stages whose output already exists")
	noSkipExisting := fs.Bool("no-skip-existing", false, "do not skip stages whose output already exists")
	dryRun := fs.Bool("dry-run", false, "print the plan and exit")
	organize := fs.Bool("organize", false, "move loose source files into subject folders first")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	mode, err := selectMode(*parseOnly, *mergeOnly, *cleanOnly, *full)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fs.Changed("skip-existing") && fs.Changed("no-skip-existing") && *skipExisting == *noSkipExisting {
		fmt.Fprintln(stderr, "--skip-existing and --no-skip-existing conflict")
		return 2
	}
	flags := plan.Flags{Mode: mode, Force: *force, SkipExisting: *skipExisting && !*noSkipExisting}

	cfg, logger, err := common.load(fs, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if *organize {
		moved, err := subject.Organize(cfg.Root, cfg.SourceExtensions, logger)
		if err != nil {
			logger.Error("organize", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("organized source files", slog.Int("moved", len(moved)))
	}

	events := &eventlog.Store{Logger: logger}
	scanner := newScanner(cfg, events)
	statuses, err := scanner.Scan(ctx)
	if err != nil {
		logger.Error("scan workspace", slog.String("root", cfg.Root), slog.String("error", err.Error()))
		return 1
	}
	for _, st := range statuses {
		if st.LogWarning != "" {
			logger.Warn("event log", slog.String("subject_id", st.ID), slog.String("warning", st.LogWarning))
		}
	}

	p := plan.Build(flags, workspace.Snapshots(statuses))
	if *dryRun {
		fmt.Fprint(stdout, reporter.RenderPlan(p))
		return 0
	}

	runID := report.NewRunID()
	logger = logger.With(slog.String("run_id", runID))

	var repo repository.Repository
	if cfg.IndexDSN != "" {
		db, mysqlRepo, err := openIndex(ctx, cfg.IndexDSN)
		if err != nil {
			logger.Warn("index unavailable, continuing without it", slog.String("error", err.Error()))
		} else {
			defer db.Close()
			defer mysqlRepo.Close()
			repo = mysqlRepo
		}
	}

	h, err := hasher.New(cfg.HashAlgorithm)
	if err != nil {
		logger.Error("hasher", slog.String("error", err.Error()))
		return 2
	}

	console := reporter.NewConsole(stdout)
	rep := reporter.Multi{console, reporter.Slog{Logger: logger}}

	exec := &pipeline.Executor{
		Root:     cfg.Root,
		Hasher:   h,
		Merger:   &merge.Engine{Reporter: rep, Events: events},
		Cleaner:  &clean.Cleaner{Boilerplate: cfg.Boilerplate, Reporter: rep, Events: events},
		Events:   events,
		Reporter: rep,
		Logger:   logger,
		RunID:    runID,
		Workers:  cfg.Workers,
	}
	if repo != nil {
		exec.Mirror = repo
	}
	if len(p.SubjectsToParse) > 0 {
		client, maxFiles, closeFn, err := newParser(ctx, cfg, logger)
		if err != nil {
			logger.Error("parser unavailable", slog.String("backend", cfg.Parser.Backend), slog.String("error", err.Error()))
		} else {
			defer closeFn()
			exec.Parser = client
			exec.MaxFiles = maxFiles
		}
	}

	sum := exec.Run(ctx, p)

	counts := map[string]int{
		"subjects":       len(p.Subjects()),
		"parse_planned":  len(p.SubjectsToParse),
		"merge_planned":  len(p.SubjectsToMerge),
		"clean_planned":  len(p.SubjectsToClean),
		"skip_decisions": len(p.SkipReasons),
	}
	var errs []string
	for status, n := range sum.Counts {
		counts[string(status)] = n
	}
	for _, o := range sum.Outcomes {
		if o.Status == pipeline.StatusFailed {
			errs = append(errs, fmt.Sprintf("%s %s: %s", o.Subject, o.Stage, o.Error))
		}
	}

	w := &report.Writer{Dir: cfg.ReportDir, Logger: logger}
	rpt := report.Report{RunID: runID, Event: string(mode), Items: sum.Outcomes, Errors: errs, Counts: counts}
	publishRun(ctx, logger, w, repo, rpt)

	fmt.Fprintf(stdout, "%s: %d ok, %d warning, %d failed, %d skipped\n",
		mode,
		sum.Counts[pipeline.StatusOK],
		sum.Counts[pipeline.StatusWarning],
		sum.Counts[pipeline.StatusFailed],
		sum.Counts[pipeline.StatusSkipped],
	)
	if len(sum.Failed()) > 0 {
		return 1
	}
	return 0
}

func selectMode(parseOnly, mergeOnly, cleanOnly, full bool) (plan.Mode, error) {
	var picked []plan.Mode
	for m, on := range map[plan.Mode]bool{
		plan.ModeParseOnly: parseOnly,
		plan.ModeMergeOnly: mergeOnly,
		plan.ModeCleanOnly: cleanOnly,
		plan.ModeFull:      full,
	} {
		if on {
			picked = append(picked, m)
		}
	}
	switch len(picked) {
	case 0:
		return plan.ModeFull, nil
	case 1:
		return picked[0], nil
	}
	return "", errors.New("--parse-only, --merge-only, --clean-only and --full are mutually exclusive")
}

// commonFlags are shared by the run and serve commands.
type commonFlags struct {
	config     *string
	root       *string
	workers    *int
	parserAddr *string
	logLevel   *string
	logFormat  *string
}

func addCommonFlags(fs *pflag.FlagSet) commonFlags {
	return commonFlags{
		config:     fs.String("config", "", "path to a YAML or JSONC config file"),
		root:       fs.String("root", "", "subject root directory"),
		workers:    fs.Int("workers", 0, "subjects processed concurrently"),
		parserAddr: fs.String("parser-addr", "", "parse service address"),
		logLevel:   fs.String("log-level", "info", "debug, info, warn or error"),
		logFormat:  fs.String("log-format", "text", "text or json"),
	}
}

// load reads the config and applies flags set on the command line.
func (c commonFlags) load(fs *pflag.FlagSet, logOut io.Writer) (config.Config, *slog.Logger, error) {
	logger, err := newLogger(*c.logLevel, *c.logFormat, logOut)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(*c.config)
	if err != nil {
		return config.Config{}, nil, err
	}
	if fs.Changed("root") {
		cfg.Root = *c.root
	}
	if fs.Changed("workers") {
		cfg.Workers = *c.workers
	}
	if fs.Changed("parser-addr") {
		cfg.Parser.Address = *c.parserAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q", format)
}

func newScanner(cfg config.Config, events *eventlog.Store) *workspace.Scanner {
	return &workspace.Scanner{
		Root:       cfg.Root,
		Extensions: cfg.SourceExtensions,
		Events:     events,
		Detector:   staleness.Detector{DetectRemoved: cfg.DetectRemovedSources},
		Workers:    cfg.Workers,
	}
}

func openIndex(ctx context.Context, dsn string) (*sql.DB, *repository.MySQLRepo, error) {
	db, err := repository.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	repo, err := repository.NewMySQLRepo(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repo, nil
}

// publishRun writes the run report and mirrors it into the index when one is
// configured. Both carry the same timestamp.
func publishRun(ctx context.Context, logger *slog.Logger, w *report.Writer, repo repository.Repository, rpt report.Report) string {
	if rpt.Timestamp.IsZero() {
		rpt.Timestamp = time.Now().UTC()
	}
	rpt.Timestamp = rpt.Timestamp.Truncate(time.Second)

	path, err := w.Write(rpt)
	if err != nil {
		logger.Error("write report", slog.String("error", err.Error()))
	}
	if repo == nil {
		return path
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = repo.RecordRun(rctx, &repository.RunRecord{
		RunID:      rpt.RunID,
		Event:      rpt.Event,
		Timestamp:  rpt.Timestamp,
		Counts:     rpt.Counts,
		ReportFile: path,
	})
	if err != nil {
		logger.Warn("index run record", slog.String("error", err.Error()))
	}
	return path
}

// newParser connects the configured backend. The gRPC backend is checked
// with a Capabilities call so an unreachable service fails before any
// subject is touched. The returned limit is the service's MaxFiles per
// call, zero when it has none.
func newParser(ctx context.Context, cfg config.Config, logger *slog.Logger) (parser.Client, int, func(), error) {
	timeout, err := cfg.ParserTimeout()
	if err != nil {
		return nil, 0, nil, err
	}
	switch cfg.Parser.Backend {
	case config.BackendDocAI:
		c, err := parser.NewDocAIClient(ctx, cfg.DocAIConfig())
		if err != nil {
			return nil, 0, nil, err
		}
		return c, 0, func() { c.Close() }, nil
	default:
		c, err := parser.Dial(cfg.Parser.Address, timeout, parser.WithMaxMessageBytes(cfg.Parser.MaxMessageBytes))
		if err != nil {
			return nil, 0, nil, err
		}
		caps, err := c.Capabilities(ctx)
		if err != nil {
			c.Close()
			return nil, 0, nil, err
		}
		logger.Info("parse service connected",
			slog.String("addr", cfg.Parser.Address),
			slog.String("backend", caps.Backend),
			slog.Any("extensions", caps.Extensions),
			slog.Int("max_files", caps.MaxFiles),
		)
		for _, ext := range cfg.SourceExtensions {
			if !slices.ContainsFunc(caps.Extensions, func(v string) bool { return strings.EqualFold(v, ext) }) {
				logger.Warn("parse service does not list a source extension", slog.String("extension", ext))
			}
		}
		return c, caps.MaxFiles, func() { c.Close() }, nil
	}
}
