// Command wfsprobe inspects a WFS service before a plan is written for it.
//
// Without -layer it lists the advertised feature types, or with -plan emits
// a plan that loads all of them into derived tables. With -layer it
// downloads that layer once and reports the table a wfsload run would
// create: inferred columns, per-property fit and uniqueness over the whole
// sample, and the CREATE TABLE for the selected backend.
//
// Exit codes: 0 success, 1 the service or layer could not be probed,
// 2 usage error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"wfsetl/internal/feature"
	"wfsetl/internal/plan"
	"wfsetl/internal/probe"
	"wfsetl/internal/storage"
	"wfsetl/internal/wfs"

	_ "wfsetl/internal/storage/all"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	URL     string
	Version string
	Layer   string

	Backend string
	Schema  string
	Table   string

	BBox         string
	SRS          string
	OutputFormat string
	Timeout      time.Duration

	Plan    bool
	Format  string
	Verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opt, err := parseArgs(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "wfsprobe: %v\n", err)
		return 2
	}

	level := zapcore.WarnLevel
	if opt.Verbose {
		level = zapcore.DebugLevel
	}
	logger := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(stderr),
		level,
	))
	defer func() { _ = logger.Sync() }()

	client := wfs.NewClient(wfs.Options{Timeout: opt.Timeout, UserAgent: "wfsprobe/1.0", Logger: logger})
	svc, err := client.Connect(ctx, opt.URL, opt.Version)
	if err != nil {
		fmt.Fprintf(stderr, "wfsprobe: %v\n", err)
		return 1
	}

	if opt.Layer == "" {
		if opt.Plan {
			return emitJSON(stdout, stderr, probe.Skeleton(svc.URL(), svc.Version(), svc.LayerNames()))
		}
		return listLayers(stdout, svc)
	}
	return probeLayer(ctx, stdout, stderr, svc, opt)
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opt options
	fs := pflag.NewFlagSet("wfsprobe", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opt.URL, "url", "", "WFS endpoint URL (required)")
	fs.StringVar(&opt.Version, "version", wfs.Version110, "WFS version: 1.0.0, 1.1.0 or 2.0.0")
	fs.StringVar(&opt.Layer, "layer", "", "layer to sample; lists the service layers when empty")
	fs.StringVar(&opt.Backend, "backend", "postgres", "backend whose CREATE TABLE is printed ("+strings.Join(storage.Kinds(), ", ")+")")
	fs.StringVar(&opt.Schema, "schema", plan.DefaultSchema, "destination schema")
	fs.StringVar(&opt.Table, "table", "", "destination table (derived from the layer name when empty)")
	fs.StringVar(&opt.BBox, "bbox", "-180,-90,180,90", "query window: minx,miny,maxx,maxy")
	fs.StringVar(&opt.SRS, "srs", plan.DefaultSRS, "spatial reference of the bbox and output")
	fs.StringVar(&opt.OutputFormat, "output-format", plan.DefaultOutputFormat, "GetFeature outputFormat (must decode as GeoJSON)")
	fs.DurationVar(&opt.Timeout, "timeout", 60*time.Second, "HTTP timeout")
	fs.BoolVar(&opt.Plan, "plan", false, "emit a plan for every advertised layer (ignored with -layer)")
	fs.StringVar(&opt.Format, "format", "text", "report format: text or json")
	fs.BoolVarP(&opt.Verbose, "verbose", "v", false, "enable debug logs")

	if err := fs.Parse(args); err != nil {
		return opt, err
	}
	if fs.NArg() > 0 {
		return opt, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if strings.TrimSpace(opt.URL) == "" {
		return opt, errors.New("missing --url")
	}
	if opt.Format != "text" && opt.Format != "json" {
		return opt, fmt.Errorf("--format: unknown format %q", opt.Format)
	}
	if _, err := parseBBox(opt.BBox); err != nil {
		return opt, fmt.Errorf("--bbox: %w", err)
	}
	if _, err := storage.LookupDialect(opt.Backend); err != nil {
		return opt, fmt.Errorf("--backend: %w", err)
	}
	return opt, nil
}

func parseBBox(s string) ([4]float64, error) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, fmt.Errorf("want 4 comma-separated numbers, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	if out[0] > out[2] || out[1] > out[3] {
		return out, errors.New("min must not exceed max")
	}
	return out, nil
}

func listLayers(w io.Writer, svc *wfs.Service) int {
	fmt.Fprintf(w, "%s (WFS %s)\n", svc.Title(), svc.Version())
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "layer\ttable\ttitle")
	for _, name := range svc.LayerNames() {
		md, _ := svc.Metadata(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, plan.TableNameFor(name), md.Title)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func probeLayer(ctx context.Context, stdout, stderr io.Writer, svc *wfs.Service, opt options) int {
	bbox, _ := parseBBox(opt.BBox)
	body, err := svc.GetFeature(ctx, opt.Layer, opt.OutputFormat, bbox, opt.SRS)
	if err != nil {
		fmt.Fprintf(stderr, "wfsprobe: %v\n", err)
		return 1
	}
	fc, err := feature.DecodeBytes(body)
	if err != nil {
		fmt.Fprintf(stderr, "wfsprobe: decode %s: %v\n", opt.Layer, err)
		return 1
	}

	d, _ := storage.LookupDialect(opt.Backend)
	rep, err := probe.Analyze(opt.Layer, fc, probe.Options{Schema: opt.Schema, Table: opt.Table, Dialect: d})
	if err != nil {
		fmt.Fprintf(stderr, "wfsprobe: %v\n", err)
		return 1
	}

	if opt.Format == "json" {
		return emitJSON(stdout, stderr, rep)
	}
	if err := rep.WriteText(stdout); err != nil {
		fmt.Fprintf(stderr, "wfsprobe: %v\n", err)
		return 1
	}
	return 0
}

func emitJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "wfsprobe: encode: %v\n", err)
		return 1
	}
	return 0
}
