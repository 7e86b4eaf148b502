// Package app wires the composer together: configuration, sample
// acquisition, the mapping engine, and the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"composer/internal/catalog"
	"composer/internal/config"
	"composer/internal/engine"
	"composer/internal/etl"
	"composer/internal/etl/sources"
	"composer/internal/infer"
	"composer/internal/mapping"
	"composer/internal/schema"
	"composer/internal/secret"
	"composer/internal/service"
	"composer/internal/storage"
	"composer/internal/transform"
)

// App holds the running composer.
type App struct {
	cfg    *config.Config
	log    *slog.Logger
	events service.EventEmitter

	db      *storage.DB
	runs    *storage.RunStore
	cache   *catalog.Cache
	indexer *catalog.Indexer
	mapper  *mapping.Mapper
	engine  *engine.Engine
	samples *service.SampleService
}

// New builds an App from cfg. The mapping bundle is loaded when cfg names
// one that exists; otherwise the app starts with an empty configuration.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log, cache: catalog.NewCache(), events: service.LogEmitter{Logger: log}}

	a.indexer = catalog.NewIndexer(
		catalog.WithMaxDepth(cfg.Index.MaxDepth),
		catalog.WithInferencer(infer.NewSampled()),
	)

	bundle, err := a.loadBundle()
	if err != nil {
		return nil, err
	}
	pipeline := transform.NewPipeline(transform.DefaultRegistry(), log)
	a.mapper = mapping.NewMapper(bundle, pipeline, log)
	a.engine = engine.New(a.mapper, a.cache, log)

	opts := service.Options{
		Emitter:     a.events,
		SampleSize:  cfg.Sampling.Size,
		Timeout:     cfg.Sampling.Timeout,
		Concurrency: cfg.Sampling.Concurrency,
	}
	if path := cfg.SamplesDB(); path != "" {
		db, err := storage.New(path)
		if err != nil {
			return nil, fmt.Errorf("open sample store: %w", err)
		}
		a.db = db
		a.runs = storage.NewRunStore(db)
		opts.Samples = storage.NewSampleStore(db)
		opts.Runs = a.runs
	}
	a.samples = service.NewSampleService(a.cache, a.indexer, opts)
	a.samples.Register(cfg.Sources...)

	sources.SetSecretStore(secretStore())
	return a, nil
}

// secretStore looks in the environment first, then the keychain when one
// is available.
func secretStore() secret.Store {
	chain := secret.Chain{secret.NewEnvStore(config.EnvPrefix + "SECRET_")}
	if kc := secret.NewKeychainStore(); kc.Available() {
		chain = append(chain, kc)
	}
	return chain
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Engine() *engine.Engine { return a.engine }
func (a *App) Mapper() *mapping.Mapper { return a.mapper }
func (a *App) Samples() *service.SampleService { return a.samples }
func (a *App) Runs() *storage.RunStore { return a.runs }
func (a *App) Indexer() *catalog.Indexer { return a.indexer }

// Startup restores persisted samples, refreshes every source, and starts
// the cron and file watchers when configured. Failed refreshes are logged;
// restored catalogues stay in place for those sources.
func (a *App) Startup(ctx context.Context) error {
	if n, err := a.samples.Restore(); err != nil {
		a.log.Warn("restore samples", "err", err)
	} else if n > 0 {
		a.log.Info("restored samples", "sources", n)
	}

	for _, r := range a.samples.RefreshAll(ctx, a.samples.Sources(), service.TriggerManual) {
		if r.Err != nil {
			a.log.Warn("initial refresh failed", "source", r.SourceID, "err", r.Err)
		}
	}

	if a.cfg.Watch || a.cfg.Refresh != "" {
		if err := a.samples.RestartWatchers(ctx, a.cfg.Refresh); err != nil {
			return fmt.Errorf("start watchers: %w", err)
		}
	}
	return nil
}

// Shutdown stops watchers, waits for running refreshes and closes storage.
func (a *App) Shutdown(ctx context.Context) {
	a.samples.Stop()
	a.samples.WaitRunning(ctx)
	if a.runs != nil {
		if _, err := a.runs.Prune(500); err != nil {
			a.log.Warn("prune run log", "err", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// ── Bundle ─────────────────────────────────────────────────

func (a *App) loadBundle() (mapping.Config, error) {
	if a.cfg.Bundle == "" {
		return mapping.Config{}, nil
	}
	data, err := os.ReadFile(a.cfg.Bundle)
	if errors.Is(err, fs.ErrNotExist) {
		return mapping.Config{}, nil
	}
	if err != nil {
		return mapping.Config{}, fmt.Errorf("read bundle: %w", err)
	}
	b, err := mapping.DecodeBundle(data)
	if err != nil {
		return mapping.Config{}, err
	}
	c, err := mapping.FromBundle(b)
	if err != nil {
		return mapping.Config{}, fmt.Errorf("bundle %s: %w", a.cfg.Bundle, err)
	}
	return c, nil
}

// SaveBundle writes the current mapping configuration to the bundle file,
// as YAML when the file name says so and JSON otherwise.
func (a *App) SaveBundle(ctx context.Context) error {
	if a.cfg.Bundle == "" {
		return errors.New("no bundle file configured")
	}
	data, err := EncodeBundle(a.cfg.Bundle, a.mapper.Config().Bundle())
	if err != nil {
		return err
	}
	dest := &etl.FileDestination{Dir: filepath.Dir(a.cfg.Bundle)}
	if _, err := dest.Write(ctx, filepath.Base(a.cfg.Bundle), data); err != nil {
		return fmt.Errorf("save bundle: %w", err)
	}
	return nil
}

// EncodeBundle picks the encoding from the file extension of name.
func EncodeBundle(name string, b mapping.Bundle) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return mapping.EncodeYAML(b)
	}
	return mapping.EncodeJSON(b)
}

func (a *App) emitter() service.EventEmitter { return a.events }

// saveBundleFunc returns SaveBundle, or nil when no bundle file is configured.
func (a *App) saveBundleFunc() func(context.Context) error {
	if a.cfg.Bundle == "" {
		return nil
	}
	return a.SaveBundle
}

// ── Composition ────────────────────────────────────────────

// Catalogues returns the cached catalogue of every source in source order.
func (a *App) Catalogues() []schema.Source {
	var out []schema.Source
	for _, id := range a.cache.Sources() {
		snap, ok := a.cache.Get(id)
		if !ok {
			continue
		}
		out = append(out, schema.Source{ID: id, Name: snap.SourceName, Entries: snap.Entries})
	}
	return out
}

// Synthesize replaces the output schema with the default tree of format.
func (a *App) Synthesize(format schema.Format) *schema.Node {
	root := schema.Synthesize(format, a.Catalogues())
	a.mapper.SetSchema(root)
	return root
}

// Compose reads every configured source in full, evaluates the mapping,
// renders it in the configured format and writes it to dest under target.
func (a *App) Compose(ctx context.Context, format schema.Format, target string, dest etl.Destination) (*etl.Result, error) {
	if format == "" {
		format = a.cfg.Format
	}
	runner := &etl.Runner{Engine: a.engine, Dest: dest}
	return runner.Run(ctx, &etl.Job{
		ID:      "compose",
		Name:    target,
		Sources: a.samples.Sources(),
		Format:  format,
		Target:  target,
	})
}
