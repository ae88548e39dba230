package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/vegaplus/internal/config"
	"github.com/roach88/vegaplus/internal/dataset"
	"github.com/roach88/vegaplus/internal/executor"
	"github.com/roach88/vegaplus/internal/pushdown"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// newLogger returns a text logger writing to w, at debug level with
// --verbose and at warn level otherwise.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config, or returns the default configuration.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	return config.Load(opts.Config)
}

// loadDocument reads a spec file and reports failures on formatter.
func loadDocument(formatter *OutputFormatter, path string) (*vgspec.Document, error) {
	doc, err := vgspec.Load(path)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeSpecLoad, err)
	}
	return doc, nil
}

// openConnection opens the named connection (the default one when name is
// empty), registers it and loads its configured datasets.
func openConnection(ctx context.Context, cfg *config.Config, reg *executor.Registry, name string, log *slog.Logger) (executor.Executor, error) {
	name, conn, err := cfg.Connection(name)
	if err != nil {
		return nil, err
	}
	if exec, err := reg.Get(name); err == nil {
		return exec, nil
	}

	exec, err := executor.Open(ctx, conn.DialectOf(), conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	if err := reg.Register(name, exec); err != nil {
		exec.Close()
		return nil, err
	}
	log.Debug("connection opened", "connection", name, "dialect", conn.Dialect)

	for _, path := range conn.Datasets {
		if _, err := loadDataset(ctx, exec, path, ""); err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		log.Debug("dataset loaded", "connection", name, "file", path)
	}
	return exec, nil
}

// loadDataset reads a data file and loads it into exec. An empty table
// name derives one from the file name.
func loadDataset(ctx context.Context, exec executor.Executor, path, table string) (loaded, error) {
	t, err := dataset.ReadFile(path)
	if err != nil {
		return loaded{}, err
	}
	if table != "" {
		t.Name = table
	}
	schema, err := dataset.Load(ctx, exec, t)
	if err != nil {
		return loaded{}, fmt.Errorf("%s: %w", path, err)
	}
	return loaded{File: path, Table: t.Name, Columns: schema.Names(), Rows: len(t.Rows)}, nil
}

// loaded summarizes one loaded dataset.
type loaded struct {
	File    string   `json:"file"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
}

// prepared is a loaded configuration and spec with its rewrite plan.
type prepared struct {
	cfg  *config.Config
	doc  *vgspec.Document
	plan *pushdown.Plan
	log  *slog.Logger
}

// prepare loads the configuration and the spec at path and rewrites it,
// reporting failures on formatter.
func prepare(formatter *OutputFormatter, opts *RootOptions, path string, fallback bool, log *slog.Logger) (*prepared, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	doc, err := loadDocument(formatter, path)
	if err != nil {
		return nil, err
	}
	plan, failures, err := planRewrite(doc, cfg.RewriteOptions(log), fallback)
	if err != nil {
		return nil, formatter.RewriteFailed(err)
	}
	for _, f := range failures {
		formatter.VerboseLog("fallback: %v", f)
	}
	return &prepared{cfg: cfg, doc: doc, plan: plan, log: log}, nil
}

// parseSignals decodes --signal name=value flags. Values are JSON; anything
// that is not valid JSON is taken as a string.
func parseSignals(flags []string) (map[string]any, error) {
	out := make(map[string]any, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --signal %q: want name=value", f)
		}
		var v any
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil || dec.More() {
			v = raw
		}
		out[name] = vgspec.Normalize(v)
	}
	return out, nil
}

// signalValues returns the spec's signal defaults overridden by flags.
func signalValues(doc *vgspec.Document, overrides map[string]any) map[string]any {
	signals := doc.SignalDefaults()
	for k, v := range overrides {
		signals[k] = v
	}
	return signals
}
