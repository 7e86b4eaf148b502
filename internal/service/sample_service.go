package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"composer/internal/catalog"
	"composer/internal/domain"
	"composer/internal/etl"
	"composer/internal/jsonvalue"
	"composer/internal/storage"
)

// ErrAlreadyRunning is returned when a refresh of the same source is in flight.
var ErrAlreadyRunning = errors.New("refresh already running")

// Refresh triggers.
const (
	TriggerManual    = "manual"
	TriggerSchedule  = "schedule"
	TriggerFileWatch = "file_watch"
)

// ─────────────────────────────────────────────────────────────
// Sample Service — keeps source catalogues fresh
// ─────────────────────────────────────────────────────────────

// Options configures a SampleService. Zero values pick defaults; nil stores
// disable persistence of samples and run logs.
type Options struct {
	Samples     *storage.SampleStore
	Runs        *storage.RunStore
	Emitter     EventEmitter
	SampleSize  int           // records collected from list-shaped sources
	Timeout     time.Duration // per refresh
	Concurrency int           // RefreshAll parallelism
	Debounce    time.Duration // file watch quiet period
}

// SampleService fetches samples for data sources, indexes them into the
// catalogue cache, and keeps them fresh on a schedule or on file change.
type SampleService struct {
	cache   *catalog.Cache
	indexer *catalog.Indexer
	opts    Options
	guard   refreshGuard

	mu      sync.Mutex
	sources map[string]domain.DataSource

	// watcher / cron lifecycle
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewSampleService creates a SampleService ready for use.
func NewSampleService(cache *catalog.Cache, ix *catalog.Indexer, opts Options) *SampleService {
	if opts.Emitter == nil {
		opts.Emitter = LogEmitter{}
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if ix == nil {
		ix = catalog.NewIndexer()
	}
	return &SampleService{
		cache:   cache,
		indexer: ix,
		opts:    opts,
		sources: map[string]domain.DataSource{},
	}
}

// Cache returns the catalogue cache the service refreshes.
func (s *SampleService) Cache() *catalog.Cache { return s.cache }

// ── Sources ────────────────────────────────────────────────

// Register adds or replaces data sources known to the service.
func (s *SampleService) Register(srcs ...domain.DataSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range srcs {
		s.sources[src.ID] = src
	}
}

// Unregister forgets a source and drops its catalogue.
func (s *SampleService) Unregister(sourceID string) {
	s.mu.Lock()
	delete(s.sources, sourceID)
	s.mu.Unlock()
	s.cache.Invalidate(sourceID)
}

// Sources returns the registered sources ordered by ID.
func (s *SampleService) Sources() []domain.DataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DataSource, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Source returns a registered source.
func (s *SampleService) Source(id string) (domain.DataSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	return src, ok
}

// ── Refresh ────────────────────────────────────────────────

// Refresh fetches a fresh sample of src and replaces its catalogue. A
// SampleDocument on src is used as is. On failure the previous catalogue
// stays in place.
func (s *SampleService) Refresh(ctx context.Context, src domain.DataSource, trigger string) (*catalog.Snapshot, error) {
	release, ok := s.guard.Acquire(src.ID)
	if !ok {
		return nil, fmt.Errorf("source %s: %w", src.ID, ErrAlreadyRunning)
	}
	defer release()

	if trigger == "" {
		trigger = TriggerManual
	}
	start := time.Now()
	snap, err := s.refresh(ctx, src)

	run := &storage.RunLog{
		SourceID:   src.ID,
		Trigger:    trigger,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Status:     string(etl.StatusSuccess),
	}
	if err != nil {
		run.Status = string(etl.StatusError)
		run.Error = err.Error()
		s.opts.Emitter.Emit(ctx, EventRefreshFailed, map[string]string{"sourceId": src.ID, "error": err.Error()})
	} else {
		run.Entries = len(snap.Entries)
		s.opts.Emitter.Emit(ctx, EventCatalogRefreshed, map[string]any{"sourceId": src.ID, "entries": len(snap.Entries)})
	}
	if s.opts.Runs != nil {
		if lerr := s.opts.Runs.Create(run); lerr != nil {
			slog.Warn("sample service: record run", "source", src.ID, "err", lerr)
		}
	}
	return snap, err
}

func (s *SampleService) refresh(ctx context.Context, src domain.DataSource) (*catalog.Snapshot, error) {
	sample := src.SampleDocument
	if sample.IsUndefined() {
		var err error
		if sample, err = s.fetch(ctx, src); err != nil {
			return nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
	}

	snap := s.cache.Refresh(s.indexer, src.ID, src.DisplayName(), sample)
	if s.opts.Samples != nil {
		err := s.opts.Samples.Save(storage.Sample{
			SourceID: src.ID, SourceName: src.DisplayName(), Document: sample, FetchedAt: snap.RefreshedAt,
		})
		if err != nil {
			slog.Warn("sample service: persist sample", "source", src.ID, "err", err)
		}
	}
	return snap, nil
}

func (s *SampleService) fetch(ctx context.Context, src domain.DataSource) (jsonvalue.Value, error) {
	source, err := etl.GetSource(string(src.Type))
	if err != nil {
		return jsonvalue.Value{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	sample, err := etl.Sample(ctx, source, etl.SourceConfig(src.Config), s.opts.SampleSize)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	if len(src.Filters) > 0 && sample.Kind() == jsonvalue.Array {
		filters, err := etl.BuildFilters(src.Filters)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		sample = jsonvalue.ArrayValue(etl.ApplyFilters(sample.Items(), filters)...)
	}
	return sample, nil
}

// RefreshResult is the outcome of one source in RefreshAll.
type RefreshResult struct {
	SourceID string `json:"sourceId"`
	Entries  int    `json:"entries"`
	Err      error  `json:"-"`
}

// RefreshAll refreshes every source concurrently. Sources are independent:
// one failure neither cancels nor retries the others. Results follow the
// order of srcs.
func (s *SampleService) RefreshAll(ctx context.Context, srcs []domain.DataSource, trigger string) []RefreshResult {
	results := make([]RefreshResult, len(srcs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, src := range srcs {
		results[i].SourceID = src.ID
		g.Go(func() error {
			snap, err := s.Refresh(ctx, src, trigger)
			if err != nil {
				results[i].Err = err
				slog.Warn("sample service: refresh failed", "source", src.ID, "err", err)
				return nil
			}
			results[i].Entries = len(snap.Entries)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Restore loads persisted samples into the cache without fetching. Sources
// that are not registered are skipped.
func (s *SampleService) Restore() (int, error) {
	if s.opts.Samples == nil {
		return 0, nil
	}
	stored, err := s.opts.Samples.List()
	if err != nil {
		return 0, fmt.Errorf("list samples: %w", err)
	}
	n := 0
	for _, sm := range stored {
		if _, ok := s.Source(sm.SourceID); !ok {
			continue
		}
		s.cache.Refresh(s.indexer, sm.SourceID, sm.SourceName, sm.Document)
		n++
	}
	return n, nil
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers tears down the current watcher/cron and rebuilds them
// from the registered sources. Sources with a Refresh expression get their
// own schedule; cronExpr, when set, refreshes every source.
func (s *SampleService) RestartWatchers(ctx context.Context, cronExpr string) error {
	s.stopWatchers()

	srcs := s.Sources()
	if err := s.schedule(ctx, srcs, cronExpr); err != nil {
		return err
	}
	return s.watchFiles(ctx, srcs)
}

func (s *SampleService) schedule(ctx context.Context, srcs []domain.DataSource, cronExpr string) error {
	c := cron.New()
	scheduled := 0
	for _, src := range srcs {
		if src.Refresh == "" {
			continue
		}
		id := src.ID
		if _, err := c.AddFunc(src.Refresh, func() { s.refreshRegistered(ctx, id, TriggerSchedule) }); err != nil {
			return fmt.Errorf("source %s: invalid refresh expression %q: %w", id, src.Refresh, err)
		}
		scheduled++
	}
	if cronExpr != "" {
		_, err := c.AddFunc(cronExpr, func() {
			s.RefreshAll(ctx, s.Sources(), TriggerSchedule)
		})
		if err != nil {
			return fmt.Errorf("invalid refresh expression %q: %w", cronExpr, err)
		}
		scheduled++
	}
	if scheduled == 0 {
		return nil
	}

	c.Start()
	s.mu.Lock()
	s.cronSched = c
	s.mu.Unlock()
	slog.Info("sample cron: scheduled", "entries", scheduled)
	return nil
}

// watchedPath returns the local file behind a file-backed source.
func watchedPath(src domain.DataSource) string {
	switch src.Type {
	case domain.SourceJSONFile, domain.SourceCSVFile, domain.SourceRSS:
		if p, _ := src.Config["filePath"].(string); p != "" {
			return p
		}
	}
	return ""
}

func (s *SampleService) watchFiles(ctx context.Context, srcs []domain.DataSource) error {
	pathToSource := make(map[string]string)
	for _, src := range srcs {
		p := watchedPath(src)
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			slog.Warn("sample watcher: bad path", "path", p, "err", err)
			continue
		}
		pathToSource[abs] = src.ID
	}
	if len(pathToSource) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch directories, not files: editors replace files on save.
	watchedDirs := make(map[string]bool)
	for abs := range pathToSource {
		dir := filepath.Dir(abs)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			slog.Warn("sample watcher: watch dir", "dir", dir, "err", err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.watcher = watcher
	s.watchCancel = cancel
	s.mu.Unlock()

	go func() {
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				abs, _ := filepath.Abs(event.Name)
				id, ok := pathToSource[abs]
				if !ok {
					continue
				}
				if t, exists := timers[id]; exists {
					t.Stop()
				}
				timers[id] = time.AfterFunc(s.opts.Debounce, func() {
					slog.Info("sample watcher: file changed", "path", abs, "source", id)
					s.refreshRegistered(watchCtx, id, TriggerFileWatch)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("sample watcher: error", "err", err)
			}
		}
	}()

	slog.Info("sample watcher: watching", "files", len(pathToSource))
	return nil
}

func (s *SampleService) refreshRegistered(ctx context.Context, id, trigger string) {
	src, ok := s.Source(id)
	if !ok {
		return
	}
	if _, err := s.Refresh(ctx, src, trigger); err != nil {
		slog.Warn("sample service: refresh failed", "source", id, "trigger", trigger, "err", err)
	}
}

// WaitRunning blocks until in-flight refreshes finish or ctx ends.
func (s *SampleService) WaitRunning(ctx context.Context) {
	if err := s.guard.Drain(ctx); err != nil {
		slog.Warn("sample service: refreshes still running at shutdown", "err", err)
	}
}

// Stop tears down all watchers and schedulers.
func (s *SampleService) Stop() {
	s.stopWatchers()
}

func (s *SampleService) stopWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
