package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/bereel/internal/camera"
	"github.com/hpungsan/bereel/internal/config"
	"github.com/hpungsan/bereel/internal/dedup"
	"github.com/hpungsan/bereel/internal/errors"
	"github.com/hpungsan/bereel/internal/export"
	"github.com/hpungsan/bereel/internal/logging"
	"github.com/hpungsan/bereel/internal/metadata"
	"github.com/hpungsan/bereel/internal/metrics"
	"github.com/hpungsan/bereel/internal/pipeline"
	"github.com/hpungsan/bereel/internal/timezone"
	"github.com/hpungsan/bereel/internal/web"
)

// kindCollections maps record kinds to the collection names used in config.
var kindCollections = map[export.Kind]string{
	export.KindMemory:       config.CollectionMemories,
	export.KindPost:         config.CollectionPosts,
	export.KindRealmoji:     config.CollectionRealmojis,
	export.KindConversation: config.CollectionConversations,
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "bereel",
		Usage:   "Turn a BeReal data export into a dated, tagged photo archive",
		Version: Version,
		Commands: []*cli.Command{
			exportCmd(),
			planCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// commonFlags are shared by every command that reads an export.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Config file (default: nearest .bereel.yaml)"},
		&cli.StringFlag{Name: "input-path", Aliases: []string{"i"}, Usage: "Folder holding the unpacked export (default ./input)"},
		&cli.StringFlag{Name: "out-path", Aliases: []string{"p"}, Usage: "Archive root (default ./output)"},
		&cli.StringFlag{Name: "timespan", Aliases: []string{"t"}, Usage: "DD.MM.YYYY-DD.MM.YYYY, either side may be *"},
		&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Only export one calendar year"},
		&cli.IntFlag{Name: "max-workers", Usage: "Records processed in parallel (default 4)"},
		&cli.StringFlag{Name: "default-timezone", Usage: "IANA zone for records without GPS (default America/New_York)"},
		&cli.BoolFlag{Name: "no-memories", Usage: "Skip memories"},
		&cli.BoolFlag{Name: "no-posts", Usage: "Skip posts"},
		&cli.BoolFlag{Name: "no-realmojis", Usage: "Skip realmojis"},
		&cli.BoolFlag{Name: "no-conversations", Usage: "Skip conversations"},
		&cli.BoolFlag{Name: "conversations-only", Usage: "Only export conversations"},
		&cli.BoolFlag{Name: "verbose", Usage: "Debug logging"},
	}
}

// exportCmd creates the export command.
func exportCmd() *cli.Command {
	flags := append(commonFlags(),
		&cli.BoolFlag{Name: "interactive-conversations", Usage: "Ask which conversation image is the selfie"},
		&cli.BoolFlag{Name: "web-ui", Usage: "Ask through a local web page instead of the terminal"},
		&cli.StringFlag{Name: "web-addr", Usage: "Web picker bind address (default 127.0.0.1:8765)"},
		&cli.StringFlag{Name: "exiftool-path", Usage: "exiftool executable (default: looked up on PATH)"},
		&cli.BoolFlag{Name: "no-metadata", Usage: "Do not embed metadata, only set file times"},
		&cli.StringFlag{Name: "metrics-textfile", Usage: "Write Prometheus metrics here at the end of the run"},
	)
	return &cli.Command{
		Name:  "export",
		Usage: "Export posts, memories, realmojis and conversations into the archive",
		Flags: flags,
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := prepare(ctx, c)
			if err != nil {
				return outputError(err)
			}
			defer logging.Sync(s.logger)

			summary, err := s.export(ctx)
			if summary != nil {
				if outErr := outputJSON(summary); outErr != nil && err == nil {
					err = errors.NewInternal(outErr)
				}
			}
			if err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// planCmd creates the plan command.
func planCmd() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Print the planned archive as JSON without writing or prompting",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			s, err := prepare(c.Context, c)
			if err != nil {
				return outputError(err)
			}
			defer logging.Sync(s.logger)

			return outputJSON(s.planOutput())
		},
	}
}

// loadConfig applies flags over the config file over the defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		base *config.Config
		err  error
	)
	if path := c.String("config"); path != "" {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, errors.NewNotFound(path)
		}
		base, err = config.Load(path)
	} else {
		cwd, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, errors.NewInternal(wdErr)
		}
		base, err = config.LoadWithRepo(cwd)
	}
	if err != nil {
		return nil, errors.NewParse("config", err)
	}

	cfg := config.Merge(base, flagConfig(c))
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	enabled := 0
	for _, name := range config.KnownCollections {
		if cfg.Enabled(name) {
			enabled++
		}
	}
	if enabled == 0 {
		return nil, errors.NewInvalidRequest("every collection is disabled, nothing to export")
	}
	return cfg, nil
}

// flagConfig returns the config set on the command line. Unset flags stay zero.
func flagConfig(c *cli.Context) *config.Config {
	cfg := &config.Config{
		InputPath:       c.String("input-path"),
		OutputPath:      c.String("out-path"),
		MaxWorkers:      c.Int("max-workers"),
		DefaultTimezone: c.String("default-timezone"),
		ExiftoolPath:    c.String("exiftool-path"),
		NoMetadata:      c.Bool("no-metadata"),
		Timespan:        c.String("timespan"),
		Year:            c.Int("year"),
		Interactive:     c.Bool("interactive-conversations"),
		WebUI:           c.Bool("web-ui"),
		WebAddr:         c.String("web-addr"),
		MetricsTextfile: c.String("metrics-textfile"),
		Verbose:         c.Bool("verbose"),
	}

	disabled := map[string]bool{
		config.CollectionMemories:      c.Bool("no-memories"),
		config.CollectionPosts:         c.Bool("no-posts"),
		config.CollectionRealmojis:     c.Bool("no-realmojis"),
		config.CollectionConversations: c.Bool("no-conversations"),
	}
	if c.Bool("conversations-only") {
		disabled[config.CollectionMemories] = true
		disabled[config.CollectionPosts] = true
		disabled[config.CollectionRealmojis] = true
	}
	for _, name := range config.KnownCollections {
		if disabled[name] {
			cfg.DisabledCollections = append(cfg.DisabledCollections, name)
		}
	}
	return cfg
}

// session is everything decided before any file is written.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	runID  string

	root       string
	problems   []export.Problem
	duplicates int
	plan       *pipeline.Plan
}

// prepare loads the export, drops duplicates, and plans every artifact.
func prepare(ctx context.Context, c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	base, err := logging.New(cfg.Verbose)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create logger: %w", err))
	}
	logger, runID := logging.WithRun(base)
	s := &session{cfg: cfg, logger: logger, runID: runID}

	if cfg.Timespan != "" && cfg.Year != 0 {
		logger.Warn("both timespan and year are set, using timespan",
			zap.String("timespan", cfg.Timespan), zap.Int("year", cfg.Year))
	}
	span, err := cfg.Span()
	if err != nil {
		return nil, err
	}

	s.root, err = export.FindExportFolder(cfg.InputPath)
	if err != nil {
		return nil, err
	}
	logger.Info("reading export", zap.String("folder", s.root))

	enabled := func(k export.Kind) bool { return cfg.Enabled(kindCollections[k]) }
	exp, err := export.NewLoader(s.root, metadata.Reader{}, logger).Load(ctx, func(k export.Kind) bool {
		return enabled(k) || reservesNames(k, enabled)
	})
	if err != nil {
		return nil, err
	}
	for _, p := range exp.Problems {
		if !enabled(p.Kind) {
			continue
		}
		s.problems = append(s.problems, p)
		logger.Warn("record not decoded",
			zap.String("kind", string(p.Kind)),
			zap.String("source", p.Source),
			zap.Int("index", p.Index),
			zap.Error(p.Err))
	}

	records := exp.Records()
	if err := dedup.AssignKeys(ctx, records, cfg.MaxWorkers); err != nil {
		return nil, errors.NewFatal("run cancelled", err)
	}
	var wanted, others []export.Record
	for _, rec := range records {
		if enabled(rec.Kind) {
			wanted = append(wanted, rec)
		} else {
			others = append(others, rec)
		}
	}
	deduped := dedup.Index(wanted)
	s.duplicates = deduped.Dropped

	resolver, err := timezone.NewResolver(cfg.DefaultTimezone, logger)
	if err != nil {
		return nil, err
	}
	planner := &pipeline.Planner{
		OutDir:   cfg.OutputPath,
		Resolver: resolver,
		Span:     span,
		Logger:   logger,

		Neighbors: dedup.Neighbors(deduped.Records, others),
	}
	s.plan = planner.Plan(deduped.Records)

	logger.Info("planned",
		zap.Int("records", len(wanted)),
		zap.Int("items", len(s.plan.Items)),
		zap.Int("duplicates", s.duplicates),
		zap.Int("outside_timespan", s.plan.OutsideSpan))
	return s, nil
}

// reservesNames reports whether a disabled kind must still be read because
// it writes into the same directory as an enabled one.
func reservesNames(k export.Kind, enabled func(export.Kind) bool) bool {
	switch k {
	case export.KindPost:
		return enabled(export.KindMemory)
	case export.KindMemory:
		return enabled(export.KindPost)
	}
	return false
}

// export runs the pipeline with the configured tag writer and chooser.
func (s *session) export(ctx context.Context) (*pipeline.Summary, error) {
	cfg, logger := s.cfg, s.logger

	var writer metadata.Writer
	if !cfg.NoMetadata {
		et, err := metadata.NewExifTool(cfg.ExiftoolPath, logger)
		if err != nil {
			return nil, err
		}
		defer et.Close()
		writer = et
	}

	var (
		chooser camera.Chooser
		picker  *web.Picker
	)
	if cfg.Interactive {
		if cfg.WebUI {
			picker = web.NewPicker(Version, logger)
			defer picker.Close()
			chooser = picker
		} else {
			chooser = camera.NewTerminalChooser(os.Stdin, os.Stderr, camera.OpenInViewer)
		}
	}

	var progress pipeline.Progress
	if stderrIsTerminal() && (!cfg.Interactive || cfg.WebUI) {
		progress = pipeline.NewProgress(len(s.plan.Items), os.Stderr)
	}

	m := metrics.New()
	deps := pipeline.Deps{
		Writer:   writer,
		Arbiter:  camera.NewArbiter(chooser, logger),
		Metrics:  m,
		Progress: progress,
		Logger:   logger,
		Workers:  cfg.MaxWorkers,
	}

	var summary *pipeline.Summary
	g, gctx := errgroup.WithContext(ctx)
	webCtx, stopWeb := context.WithCancel(gctx)
	defer stopWeb()
	if picker != nil {
		g.Go(func() error {
			return web.Run(webCtx, web.NewServer(picker, cfg.WebAddr), logger, func(url string) {
				if err := camera.OpenInViewer(url); err != nil {
					logger.Info("open the picker in a browser", zap.String("url", url))
				}
			})
		})
	}
	g.Go(func() error {
		defer stopWeb()
		var err error
		summary, err = pipeline.Run(gctx, deps, s.plan)
		return err
	})
	err := g.Wait()

	s.annotate(summary)
	if path := cfg.MetricsTextfile; path != "" {
		if werr := m.WriteTextfile(path); werr != nil {
			logger.Warn("cannot write metrics textfile", zap.String("path", path), zap.Error(werr))
		}
	}

	totals := summary.Totals()
	logger.Info("export finished",
		zap.Int64("exported", totals.Exported),
		zap.Int64("skipped", totals.Skipped),
		zap.Int64("failed", totals.Failed),
		zap.Int64("artifacts", summary.ArtifactsWritten))
	if err != nil && !errors.IsFatal(err) {
		err = errors.NewFatal("run aborted", err)
	}
	return summary, err
}

// annotate adds what happened before the pipeline to its summary.
func (s *session) annotate(summary *pipeline.Summary) {
	summary.RunID = s.runID
	summary.Duplicates = s.duplicates
	summary.OutsideSpan = s.plan.OutsideSpan
	summary.LoadProblems = len(s.problems)
	for _, p := range s.problems {
		k := summary.Kinds[string(p.Kind)]
		k.Failed++
		summary.Kinds[string(p.Kind)] = k
	}
}

// PlanOutput is the dry-run report printed by the plan command.
type PlanOutput struct {
	RunID        string         `json:"run_id"`
	ExportFolder string         `json:"export_folder"`
	OutDir       string         `json:"out_dir"`
	Items        []PlannedItem  `json:"items"`
	Failures     []PlanFailure  `json:"failures,omitempty"`
	Duplicates   int            `json:"duplicates_dropped"`
	OutsideSpan  int            `json:"outside_timespan"`
	LoadProblems int            `json:"load_problems"`
	Totals       map[string]int `json:"totals"`
}

// PlannedItem is one capture of the plan.
type PlannedItem struct {
	Kind       string              `json:"kind"`
	Record     string              `json:"record"`
	Shape      pipeline.Shape      `json:"shape"`
	LocalTime  string              `json:"local_time"`
	Zone       string              `json:"zone"`
	ZoneSource timezone.Source     `json:"zone_source"`
	Decision   string              `json:"decision,omitempty"`
	Present    bool                `json:"present"`
	Artifacts  []pipeline.Artifact `json:"artifacts"`
}

// PlanFailure is a record that cannot be exported.
type PlanFailure struct {
	pipeline.Failure
	Error string `json:"error"`
}

func (s *session) planOutput() *PlanOutput {
	out := &PlanOutput{
		RunID:        s.runID,
		ExportFolder: s.root,
		OutDir:       s.plan.OutDir,
		Items:        make([]PlannedItem, 0, len(s.plan.Items)),
		Duplicates:   s.duplicates,
		OutsideSpan:  s.plan.OutsideSpan,
		LoadProblems: len(s.problems),
		Totals:       make(map[string]int),
	}
	for i := range s.plan.Items {
		it := &s.plan.Items[i]
		arts, d := it.Preview()
		item := PlannedItem{
			Kind:       string(it.Record.Kind),
			Record:     it.Record.ID,
			Shape:      it.Shape,
			LocalTime:  it.Resolution.Local.Format(time.RFC3339),
			Zone:       it.Resolution.Zone,
			ZoneSource: it.Resolution.Source,
			Present:    it.Present(),
			Artifacts:  arts,
		}
		if d != nil {
			item.Decision = d.String()
		}
		out.Items = append(out.Items, item)
		out.Totals[item.Kind]++
	}
	for _, f := range s.plan.Failures {
		out.Failures = append(out.Failures, PlanFailure{Failure: f, Error: f.Err.Error()})
	}
	return out
}

// outputJSON writes JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if exportErr, ok := err.(*errors.ExportError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", exportErr.Code, exportErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
