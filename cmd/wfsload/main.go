// Command wfsload materializes the layers of one or more WFS services into
// files and database tables, as described by an ingestion plan.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wfsetl/internal/dbconfig"
	"wfsetl/internal/export"
	"wfsetl/internal/materialize"
	"wfsetl/internal/metrics"
	"wfsetl/internal/metrics/datadog"
	"wfsetl/internal/metrics/prompush"
	"wfsetl/internal/plan"
	"wfsetl/internal/storage"
	"wfsetl/internal/wfs"
	"wfsetl/internal/workflow"

	// Register every backend; database.ini selects the one to use.
	_ "wfsetl/internal/storage/all"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	jobName               = "wfsload"
	defaultPushgatewayURL = "http://localhost:9091"
)

// backendCloser is a metrics backend the command shuts down on exit.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	OpenDB     func(ctx context.Context, path, env string, logger *zap.Logger) (storage.Conn, error)
	NewService func(opts wfs.Options) workflow.FeatureService
	// NewMetrics returns (nil, nil) when metrics are disabled.
	NewMetrics func(ctx context.Context, cfg runConfig, logger *zap.Logger) (backendCloser, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Now:        time.Now,
		Sleep:      workflow.SleepContext,
		OpenDB:     dbconfig.Open,
		NewService: newService,
		NewMetrics: newMetrics,
	})
	stop()
	os.Exit(code)
}

// run executes one plan and returns the exit code.
//
// Exit codes:
//   - 0: the run completed, even if some layers failed.
//   - 1: fatal error (database open failure, cancellation).
//   - 2: usage error or invalid plan.
func run(ctx context.Context, args []string, d deps) int {
	d.defaults()

	cfg, err := parseFlags(args, d.Stdout)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(d.Stderr, "wfsload: %v\n", err)
		return 2
	}

	logger := newLogger(d.Stderr, cfg.LogFormat, cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	p, err := plan.Load(cfg.PlanName)
	if err != nil {
		fmt.Fprintf(d.Stderr, "wfsload: %v\n", err)
		return 2
	}
	if cfg.Validate {
		fmt.Fprintf(d.Stdout, "plan %s is valid: %d groups, %d layers\n", cfg.PlanName, len(p.Groups), p.LayerCount())
		return 0
	}
	if cfg.Drop && !cfg.Overwrite {
		logger.Warn("--drop has no effect without --overwrite")
	}

	if b, err := d.NewMetrics(ctx, cfg, logger); err != nil {
		logger.Warn("metrics: init failed; using nop", zap.String("backend", cfg.Metrics), zap.Error(err))
	} else if b != nil {
		metrics.SetBackend(b)
		defer func() {
			if err := b.Close(); err != nil {
				logger.Warn("metrics: close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}()
	}

	conn, err := d.OpenDB(ctx, cfg.DBConfig, cfg.DBEnv, logger)
	if err != nil {
		logger.Error("database open failed", zap.String("path", cfg.DBConfig), zap.String("env", cfg.DBEnv), zap.Error(err))
		return 1
	}
	if conn != nil {
		defer conn.Close()
	}

	drift, _ := materialize.ParseDriftMode(cfg.SchemaDrift)
	svc := d.NewService(wfs.Options{
		Timeout: cfg.Timeout,
		MaxRPS:  cfg.MaxRPS,
		Logger:  logger,
	})
	driver := &workflow.Driver{
		Plan:     p,
		Service:  svc,
		DB:       conn,
		Exporter: export.NewExporter(logger),
		Loader:   &materialize.Materializer{Drift: drift, Logger: logger},
		Policy:   materialize.Policy{Overwrite: cfg.Overwrite, DropOnOverwrite: cfg.Drop},
		Sidecars: plan.Sidecars{Style: cfg.Styles, Metadata: cfg.Metadata},
		Throttle: cfg.throttle(p.Sleep),
		Sleep:    d.Sleep,
		Now:      d.Now,
		Logger:   logger,
	}

	printer := message.NewPrinter(language.English)
	printer.Fprintf(d.Stdout, "wfsload: %d layers from %d services\n", p.LayerCount(), len(p.Groups))

	rep, runErr := driver.Run(ctx)
	if rep != nil {
		printSummary(printer, d.Stdout, rep)
	}
	if runErr != nil {
		logger.Error("run aborted", zap.Error(runErr))
		return 1
	}
	return 0
}

func (d *deps) defaults() {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = workflow.SleepContext
	}
	if d.OpenDB == nil {
		d.OpenDB = dbconfig.Open
	}
	if d.NewService == nil {
		d.NewService = newService
	}
	if d.NewMetrics == nil {
		d.NewMetrics = newMetrics
	}
}

func newService(opts wfs.Options) workflow.FeatureService {
	return workflow.WFS(wfs.NewClient(opts))
}

// newLogger writes to w: JSON with production encoding, or the development
// console encoder.
func newLogger(w io.Writer, format string, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level))
}

// newMetrics selects the metrics backend: an explicit --metrics, then env
// METRICS_BACKEND, then the flag default.
func newMetrics(ctx context.Context, cfg runConfig, logger *zap.Logger) (backendCloser, error) {
	backend := cfg.Metrics
	if !cfg.MetricsSet {
		if env := os.Getenv("METRICS_BACKEND"); env != "" {
			backend = env
		}
	}

	switch backend {
	case "pushgateway":
		gwURL := cfg.PushgatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = defaultPushgatewayURL
		}
		b, err := prompush.NewBackend(jobName, gwURL)
		if err != nil {
			return nil, err
		}
		logger.Info("metrics: enabled", zap.String("backend", backend), zap.String("url", gwURL), zap.String("job", jobName))
		return pushOnClose{b}, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("metrics: enabled", zap.String("backend", backend), zap.String("job", jobName), zap.Strings("tags", tags))
		return b, nil

	case "", "none":
		logger.Debug("metrics: disabled")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// pushOnClose pushes the Pushgateway registry once, at shutdown.
type pushOnClose struct{ *prompush.Backend }

func (p pushOnClose) Close() error { return p.Flush() }

func printSummary(pr *message.Printer, w io.Writer, rep *workflow.Report) {
	done, failed, skipped := rep.Counts()
	pr.Fprintf(w, "run %s %s in %s\n", rep.RunID, rep.State, rep.Finished.Sub(rep.Started).Truncate(time.Millisecond))
	pr.Fprintf(w, "layers: %d done, %d failed, %d skipped\n", done, failed, skipped)
	if err := rep.Summary(); err != nil {
		fmt.Fprintln(w, err)
	}
}
