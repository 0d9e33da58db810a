// Package workflow drives an ingestion run: for every service group it
// connects once, then fetches each layer in order and fans the payload out
// to its file, table, style and metadata destinations.
//
// Failures are contained where they happen. A group that cannot connect
// loses only its own layers; a layer that cannot be fetched or exported is
// reported and the run moves on. Only a cancelled context ends a run early.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wfsetl/internal/export"
	"wfsetl/internal/feature"
	"wfsetl/internal/materialize"
	"wfsetl/internal/metrics"
	"wfsetl/internal/plan"
	"wfsetl/internal/schema"
	"wfsetl/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Driver runs one plan. Build it once at startup; it is not safe for
// concurrent Run calls.
type Driver struct {
	Plan    *plan.Plan
	Service FeatureService
	// DB may be nil, in which case table targets are skipped with a warning.
	DB       storage.Conn
	Exporter FileExporter
	Loader   TableLoader

	// Policy applies to files (Overwrite) and tables (both fields).
	Policy   materialize.Policy
	Sidecars plan.Sidecars

	// Throttle is the pause between consecutive layers.
	Throttle time.Duration
	// Sleep waits for d or until ctx is done. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time

	Logger *zap.Logger
}

// SleepContext waits for d, returning ctx.Err() if ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the plan. The returned error is non-nil only when ctx was
// cancelled; contained failures are in the Report (see Report.Summary).
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	if d.Plan == nil || d.Service == nil {
		return nil, errors.New("workflow: driver needs a plan and a feature service")
	}
	d.defaults()

	rep := &Report{RunID: uuid.NewString(), State: StateStarted, Started: d.Now()}
	log := d.Logger.With(zap.String("run_id", rep.RunID))

	total := d.Plan.LayerCount()
	log.Info("process started",
		zap.Int("groups", len(d.Plan.Groups)),
		zap.Int("layers", total),
		zap.Bool("database", d.DB != nil),
	)
	if d.DB == nil {
		log.Warn("no database connection; table targets will be skipped")
	}

	finish := func(state State, err error) (*Report, error) {
		rep.State = state
		rep.Finished = d.Now()
		done, failed, skipped := rep.Counts()
		log.Info("process finished",
			zap.String("state", string(state)),
			zap.Int("done", done),
			zap.Int("failed", failed),
			zap.Int("skipped", skipped),
			zap.Duration("duration", rep.Finished.Sub(rep.Started)),
		)
		return rep, err
	}

	seen := 0
	for _, g := range d.Plan.Groups {
		if err := ctx.Err(); err != nil {
			return finish(StateCancelled, err)
		}

		gr := &GroupReport{URL: g.URL, Version: g.Version, State: StateConnecting}
		rep.Groups = append(rep.Groups, gr)
		glog := log.With(zap.String("group", g.URL))

		sess, err := d.Service.Connect(ctx, g.URL, g.Version)
		if err != nil {
			gr.State = StateConnectFailed
			gr.Err = err
			glog.Error("connect failed; skipping group", zap.Error(err), zap.Int("layers", len(g.Layers)))
			for _, l := range g.Layers {
				gr.Layers = append(gr.Layers, &LayerReport{Layer: l.Name, State: StateSkipped})
				metrics.IncCounter(metrics.LayersTotal, 1, metrics.Labels{"status": "skipped"})
			}
			seen += len(g.Layers)
			continue
		}
		gr.State = StateConnected
		gr.Title = sess.Title()
		glog.Info("downloading layers from service",
			zap.String("title", gr.Title),
			zap.Strings("advertised", sess.LayerNames()),
		)

		for _, l := range g.Layers {
			if err := ctx.Err(); err != nil {
				return finish(StateCancelled, err)
			}
			lr := d.runLayer(ctx, glog, sess, g, l)
			gr.Layers = append(gr.Layers, lr)
			seen++

			if seen < total && d.Throttle > 0 {
				if err := d.Sleep(ctx, d.Throttle); err != nil {
					return finish(StateCancelled, err)
				}
			}
		}
	}
	return finish(StateFinished, nil)
}

func (d *Driver) defaults() {
	if d.Sleep == nil {
		d.Sleep = SleepContext
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Exporter == nil {
		d.Exporter = export.NewExporter(d.Logger)
	}
	if d.Loader == nil {
		d.Loader = &materialize.Materializer{Logger: d.Logger}
	}
}

// runLayer fetches one layer and exports it. It never returns an error: the
// outcome is in the LayerReport.
func (d *Driver) runLayer(ctx context.Context, glog *zap.Logger, sess Session, g plan.ServiceGroup, l plan.LayerSpec) *LayerReport {
	start := d.Now()
	lr := &LayerReport{Layer: l.Name, State: StateFetching}
	log := glog.With(zap.String("layer", l.Name))
	targets := plan.ResolveTargets(d.Plan, g, l, d.Sidecars)

	defer func() {
		lr.Duration = d.Now().Sub(start)
		status := layerStatus(lr.State)
		metrics.IncCounter(metrics.LayersTotal, 1, metrics.Labels{"status": status})
		metrics.ObserveHistogram(metrics.LayerDurationSeconds, lr.Duration.Seconds(), metrics.Labels{"status": status})
	}()

	log.Info("downloading layer")
	body, err := sess.GetFeature(ctx, l.Name, d.Plan.OutputFormat, d.Plan.Extent(), d.Plan.SRS)
	if err != nil {
		lr.State = StateFetchFailed
		lr.Err = err
		log.Error("fetch failed", zap.Error(err))
		return lr
	}
	lr.State = StateFetched
	lr.Bytes = len(body)

	lr.State = StateExporting
	failed := false

	for _, path := range targets.Files {
		tr := d.exportFile(ctx, log, KindFile, path, body)
		failed = failed || tr.Err != nil
		lr.Targets = append(lr.Targets, tr)
	}

	if len(targets.Tables) > 0 {
		trs := d.exportTables(ctx, log, targets.Tables, body)
		for _, tr := range trs {
			failed = failed || tr.Err != nil
		}
		lr.Targets = append(lr.Targets, trs...)
	}

	// Side channels: recorded, but they never fail the layer.
	if targets.Style {
		lr.Targets = append(lr.Targets, d.exportStyle(ctx, log, sess, l.Name, targets.StylePath))
	}
	if targets.Metadata {
		lr.Targets = append(lr.Targets, d.exportMetadata(ctx, log, sess, l.Name, targets.MetadataPath))
	}

	if failed {
		lr.State = StateExportFailed
		log.Error("layer export failed")
		return lr
	}
	lr.State = StateDone
	return lr
}

func layerStatus(s State) string {
	switch s {
	case StateDone:
		return "done"
	case StateFetchFailed:
		return "fetch_failed"
	case StateExportFailed:
		return "export_failed"
	default:
		return "unknown"
	}
}

func (d *Driver) exportFile(ctx context.Context, log *zap.Logger, kind, path string, data []byte) TargetReport {
	tr := TargetReport{Kind: kind, Dest: path}
	outcome, err := d.Exporter.Export(ctx, path, data, d.Policy.Overwrite)
	if err != nil {
		tr.Outcome = OutcomeFailed
		tr.Err = err
		log.Error("file export failed", zap.String("target", kind), zap.String("path", path), zap.Error(err))
	} else {
		tr.Outcome = string(outcome)
	}
	metrics.IncCounter(metrics.TargetsTotal, 1, metrics.Labels{"kind": kind, "outcome": tr.Outcome})
	return tr
}

func (d *Driver) exportTables(ctx context.Context, log *zap.Logger, tables []plan.TableRef, body []byte) []TargetReport {
	out := make([]TargetReport, 0, len(tables))
	record := func(tr TargetReport) {
		metrics.IncCounter(metrics.TargetsTotal, 1, metrics.Labels{"kind": KindTable, "outcome": tr.Outcome})
		out = append(out, tr)
	}

	if d.DB == nil {
		for _, t := range tables {
			log.Warn("no database; skipping table target", zap.String("table", t.Schema+"."+t.Table), zap.Bool("skipped", true))
			record(TargetReport{Kind: KindTable, Dest: t.Schema + "." + t.Table, Outcome: OutcomeNoDB})
		}
		return out
	}

	// One decode serves every table target of the layer.
	fc, decodeErr := feature.DecodeBytes(body)
	if decodeErr != nil {
		decodeErr = fmt.Errorf("decode features: %w", decodeErr)
	}

	for _, t := range tables {
		tr := TargetReport{Kind: KindTable, Dest: t.Schema + "." + t.Table}
		if decodeErr != nil {
			tr.Outcome, tr.Err = OutcomeFailed, decodeErr
			log.Error("table export failed", zap.String("table", tr.Dest), zap.Error(decodeErr))
			record(tr)
			continue
		}

		log.Info("exporting to table", zap.String("table", tr.Dest))
		res, err := d.Loader.Materialize(ctx, d.DB, t.Schema, t.Table, fc, d.Policy)
		switch {
		case errors.Is(err, schema.ErrEmptyFeatureCollection):
			tr.Outcome = OutcomeEmpty
			log.Warn("empty feature collection; table left untouched", zap.String("table", tr.Dest), zap.Bool("skipped", true))
		case err != nil:
			tr.Outcome, tr.Err = OutcomeFailed, err
			log.Error("table export failed", zap.String("table", tr.Dest), zap.Stringer("action", res.Action), zap.Error(err))
		default:
			tr.Outcome = res.Action.String()
			tr.Rows = res.Rows
			if res.Action != materialize.ActionSkip {
				metrics.IncCounter(metrics.RowsLoadedTotal, float64(res.Rows), nil)
				log.Info("table loaded",
					zap.String("table", tr.Dest),
					zap.Stringer("action", res.Action),
					zap.Int64("rows", res.Rows),
					zap.Duration("duration", res.Duration),
				)
			}
		}
		record(tr)
	}
	return out
}

func (d *Driver) exportStyle(ctx context.Context, log *zap.Logger, sess Session, layer, path string) TargetReport {
	sld, err := sess.GetStyle(ctx, layer)
	if err != nil {
		log.Warn("style download failed", zap.Error(err))
		metrics.IncCounter(metrics.TargetsTotal, 1, metrics.Labels{"kind": KindStyle, "outcome": OutcomeFailed})
		return TargetReport{Kind: KindStyle, Dest: path, Outcome: OutcomeFailed, Err: err}
	}
	return d.exportFile(ctx, log, KindStyle, path, sld)
}

// MetadataDocument is the JSON written for the metadata side channel.
type MetadataDocument struct {
	Service  string   `json:"service"`
	Layer    string   `json:"layer"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Keywords []string `json:"keywords"`
}

func (d *Driver) exportMetadata(ctx context.Context, log *zap.Logger, sess Session, layer, path string) TargetReport {
	md, ok := sess.Metadata(layer)
	if !ok {
		log.Debug("layer not advertised in capabilities; metadata is partial")
	}
	doc := MetadataDocument{
		Service:  sess.Title(),
		Layer:    layer,
		Title:    md.Title,
		Abstract: md.Abstract,
		Keywords: md.Keywords,
	}
	if doc.Keywords == nil {
		doc.Keywords = []string{}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return TargetReport{Kind: KindMetadata, Dest: path, Outcome: OutcomeFailed, Err: err}
	}
	return d.exportFile(ctx, log, KindMetadata, path, append(b, '\n'))
}
