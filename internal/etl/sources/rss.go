package sources

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mmcdole/gofeed"

	"composer/internal/etl"
	"composer/internal/jsonvalue"
)

// ── RSS Source ──────────────────────────────────────────────
// Reads an RSS, Atom, or JSON Feed from a URL or a local file. The sample is
// the whole feed; records are its items.

type rssSource struct{}

func init() { etl.RegisterSource(&rssSource{}) }

func (s *rssSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "rss",
		Label: "RSS / Atom Feed",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "Feed URL", Type: "string", Help: "http(s) URL of the feed"},
			{Key: "filePath", Label: "File Path", Type: "file", Help: "Local feed file, used when no URL is set"},
		},
	}
}

func (s *rssSource) Sample(ctx context.Context, cfg etl.SourceConfig) (jsonvalue.Value, error) {
	feed, err := parseFeed(ctx, cfg)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	return feedDocument(feed), nil
}

func (s *rssSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan jsonvalue.Value, <-chan error) {
	return stream(ctx, func() ([]jsonvalue.Value, error) {
		feed, err := parseFeed(ctx, cfg)
		if err != nil {
			return nil, err
		}
		items := make([]jsonvalue.Value, 0, len(feed.Items))
		for _, it := range feed.Items {
			items = append(items, itemDocument(it))
		}
		return items, nil
	})
}

func parseFeed(ctx context.Context, cfg etl.SourceConfig) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = HTTPClient

	if url := cfg.String("url"); url != "" {
		feed, err := fp.ParseURLWithContext(url, ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch feed: %w", err)
		}
		return feed, nil
	}
	path := cfg.String("filePath")
	if path == "" {
		return nil, fmt.Errorf("url or filePath is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	feed, err := fp.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// fields builds an object, skipping empty strings and undefined values.
type fields []jsonvalue.Field

func (f *fields) str(key, s string) {
	if s != "" {
		*f = append(*f, jsonvalue.Field{Key: key, Value: jsonvalue.StringValue(s)})
	}
}

func (f *fields) when(key string, t *time.Time) {
	if t != nil {
		f.str(key, t.UTC().Format(time.RFC3339))
	}
}

func (f *fields) val(key string, v jsonvalue.Value) {
	if !v.IsUndefined() {
		*f = append(*f, jsonvalue.Field{Key: key, Value: v})
	}
}

func feedDocument(feed *gofeed.Feed) jsonvalue.Value {
	var f fields
	f.str("title", feed.Title)
	f.str("link", feed.Link)
	f.str("description", feed.Description)
	f.str("language", feed.Language)
	f.when("updated", feed.UpdatedParsed)
	f.str("feedType", feed.FeedType)
	items := make([]jsonvalue.Value, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, itemDocument(it))
	}
	f.val("items", jsonvalue.ArrayValue(items...))
	return jsonvalue.NewObject(f...)
}

func itemDocument(it *gofeed.Item) jsonvalue.Value {
	var f fields
	f.str("title", it.Title)
	f.str("link", it.Link)
	f.str("description", it.Description)
	f.str("content", it.Content)
	f.str("guid", it.GUID)
	f.when("published", it.PublishedParsed)
	f.when("updated", it.UpdatedParsed)
	if it.Author != nil {
		f.str("author", it.Author.Name)
	}
	if len(it.Categories) > 0 {
		f.val("categories", jsonvalue.FromAny(it.Categories))
	}
	if len(it.Enclosures) > 0 {
		encs := make([]jsonvalue.Value, 0, len(it.Enclosures))
		for _, e := range it.Enclosures {
			var ef fields
			ef.str("url", e.URL)
			ef.str("type", e.Type)
			ef.str("length", e.Length)
			encs = append(encs, jsonvalue.NewObject(ef...))
		}
		f.val("enclosures", jsonvalue.ArrayValue(encs...))
	}
	return jsonvalue.NewObject(f...)
}
