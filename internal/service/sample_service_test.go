package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"composer/internal/catalog"
	"composer/internal/domain"
	"composer/internal/jsonvalue"
	"composer/internal/service"
	"composer/internal/storage"

	_ "composer/internal/etl/sources"
)

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

type fixture struct {
	svc     *service.SampleService
	cache   *catalog.Cache
	samples *storage.SampleStore
	runs    *storage.RunStore
	events  *service.MockEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		cache:   catalog.NewCache(),
		samples: storage.NewSampleStore(db),
		runs:    storage.NewRunStore(db),
		events:  &service.MockEmitter{},
	}
	f.svc = service.NewSampleService(f.cache, nil, service.Options{
		Samples:  f.samples,
		Runs:     f.runs,
		Emitter:  f.events,
		Debounce: 20 * time.Millisecond,
	})
	t.Cleanup(f.svc.Stop)
	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func jsonFileSource(id, path string) domain.DataSource {
	return domain.DataSource{
		ID:     id,
		Type:   domain.SourceJSONFile,
		Config: map[string]any{"filePath": path},
	}
}

// ─────────────────────────────────────────────────────────────
// Refresh
// ─────────────────────────────────────────────────────────────

func TestRefresh_SampleDocument(t *testing.T) {
	f := newFixture(t)
	src := domain.DataSource{
		ID:             "inline",
		Name:           "Inline",
		SampleDocument: jsonvalue.MustParse(`{"title":"x","tags":["a"]}`),
	}

	snap, err := f.svc.Refresh(context.Background(), src, "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := snap.Lookup("title"); !ok {
		t.Fatal("expected title in catalogue")
	}
	if _, ok := f.cache.Get("inline"); !ok {
		t.Fatal("expected cache slot for inline")
	}
	if n := len(f.events.Named(service.EventCatalogRefreshed)); n != 1 {
		t.Fatalf("expected 1 refreshed event, got %d", n)
	}

	runs, err := f.runs.List("inline", 0)
	if err != nil {
		t.Fatalf("List runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Trigger != service.TriggerManual || runs[0].Status != "success" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestRefresh_JSONFilePersistsSample(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "posts.json")
	writeFile(t, path, `[{"id":1,"title":"a"},{"id":2,"title":"b"},{"id":3,"title":"a"}]`)

	src := jsonFileSource("posts", path)
	src.Filters = []domain.FilterConfig{{Type: "dedupe", Config: map[string]any{"path": "title"}}}

	if _, err := f.svc.Refresh(context.Background(), src, service.TriggerManual); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	stored, err := f.samples.Get("posts")
	if err != nil {
		t.Fatalf("Get sample: %v", err)
	}
	if got := stored.Document.Len(); got != 2 {
		t.Fatalf("expected 2 deduped records, got %d (%s)", got, stored.Document)
	}
	if _, ok := f.cache.Lookup("posts", "title"); !ok {
		t.Fatalf("expected title entry, got %+v", f.cache.Entries("posts"))
	}
}

func TestRefresh_FailureKeepsStaleCatalogue(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "data.json")
	writeFile(t, path, `{"name":"first"}`)
	src := jsonFileSource("data", path)

	if _, err := f.svc.Refresh(context.Background(), src, ""); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	writeFile(t, path, `{broken`)

	if _, err := f.svc.Refresh(context.Background(), src, ""); err == nil {
		t.Fatal("expected error for broken file")
	}
	sample, ok := f.cache.Sample("data")
	if !ok || sample.Get("name").String() != "first" {
		t.Fatalf("expected stale sample to survive, got %s", sample)
	}
	if n := len(f.events.Named(service.EventRefreshFailed)); n != 1 {
		t.Fatalf("expected 1 failure event, got %d", n)
	}
	runs, _ := f.runs.List("data", 1)
	if len(runs) != 1 || runs[0].Status != "error" || runs[0].Error == "" {
		t.Fatalf("expected error run, got %+v", runs)
	}
}

func TestRefresh_AlreadyRunning(t *testing.T) {
	f := newFixture(t)
	src := domain.DataSource{ID: "s", SampleDocument: jsonvalue.MustParse(`{"a":1}`)}
	done := make(chan error, 8)
	for range 8 {
		go func() {
			_, err := f.svc.Refresh(context.Background(), src, "")
			done <- err
		}()
	}
	for range 8 {
		if err := <-done; err != nil && !errors.Is(err, service.ErrAlreadyRunning) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestRefreshAll_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	writeFile(t, good, `{"ok":true}`)

	srcs := []domain.DataSource{
		jsonFileSource("good", good),
		jsonFileSource("missing", filepath.Join(dir, "nope.json")),
		{ID: "inline", SampleDocument: jsonvalue.MustParse(`{"x":1,"y":2}`)},
	}
	results := f.svc.RefreshAll(context.Background(), srcs, "")

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].SourceID != "good" || results[0].Err != nil || results[0].Entries != 1 {
		t.Errorf("good: %+v", results[0])
	}
	if results[1].SourceID != "missing" || results[1].Err == nil {
		t.Errorf("missing: %+v", results[1])
	}
	if results[2].Err != nil || results[2].Entries != 2 {
		t.Errorf("inline: %+v", results[2])
	}
}

// ─────────────────────────────────────────────────────────────
// Restore / Sources
// ─────────────────────────────────────────────────────────────

func TestRestore_LoadsRegisteredSamples(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	for _, id := range []string{"kept", "orphan"} {
		err := f.samples.Save(storage.Sample{
			SourceID: id, SourceName: id, Document: jsonvalue.MustParse(`{"v":1}`), FetchedAt: now,
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	f.svc.Register(domain.DataSource{ID: "kept"})

	n, err := f.svc.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 restored, got %d", n)
	}
	if _, ok := f.cache.Lookup("kept", "v"); !ok {
		t.Fatal("expected kept catalogue")
	}
	if _, ok := f.cache.Get("orphan"); ok {
		t.Fatal("orphan sample should not be restored")
	}
}

func TestSources_SortedAndUnregister(t *testing.T) {
	f := newFixture(t)
	f.svc.Register(
		domain.DataSource{ID: "b", SampleDocument: jsonvalue.MustParse(`{"a":1}`)},
		domain.DataSource{ID: "a"},
	)
	srcs := f.svc.Sources()
	if len(srcs) != 2 || srcs[0].ID != "a" || srcs[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", srcs)
	}

	b, _ := f.svc.Source("b")
	if _, err := f.svc.Refresh(context.Background(), b, ""); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	f.svc.Unregister("b")
	if _, ok := f.cache.Get("b"); ok {
		t.Fatal("expected catalogue to be dropped")
	}
}

// ─────────────────────────────────────────────────────────────
// Watchers
// ─────────────────────────────────────────────────────────────

func TestRestartWatchers_InvalidCron(t *testing.T) {
	f := newFixture(t)
	src := domain.DataSource{ID: "s", Refresh: "not a cron"}
	f.svc.Register(src)

	if err := f.svc.RestartWatchers(context.Background(), ""); err == nil {
		t.Fatal("expected invalid source expression error")
	}
	f.svc.Unregister("s")
	if err := f.svc.RestartWatchers(context.Background(), "every day"); err == nil {
		t.Fatal("expected invalid global expression error")
	}
	if err := f.svc.RestartWatchers(context.Background(), "@hourly"); err != nil {
		t.Fatalf("valid expression: %v", err)
	}
}

func TestRestartWatchers_FileChangeRefreshes(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "feed.json")
	writeFile(t, path, `{"v":1}`)
	f.svc.Register(jsonFileSource("feed", path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.svc.RestartWatchers(ctx, ""); err != nil {
		t.Fatalf("RestartWatchers: %v", err)
	}

	writeFile(t, path, `{"v":2,"extra":true}`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		runs, _ := f.runs.List("feed", 1)
		if len(runs) == 1 && runs[0].Trigger == service.TriggerFileWatch {
			if _, ok := f.cache.Lookup("feed", "extra"); ok {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("file change did not refresh the catalogue")
}
