// Package sources holds the acquisition sources. Each file registers one
// source type with the etl registry from init().
package sources

import (
	"context"
	"fmt"

	"composer/internal/etl"
	"composer/internal/jsonvalue"
	"composer/internal/sourcepath"
)

// atDataPath navigates to the source path in cfg["dataPath"]. An empty path
// returns doc itself.
func atDataPath(doc jsonvalue.Value, cfg etl.SourceConfig) (jsonvalue.Value, error) {
	raw := cfg.String("dataPath")
	if raw == "" {
		return doc, nil
	}
	p, err := sourcepath.Parse(raw)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("dataPath: %w", err)
	}
	v := sourcepath.Resolve(doc, p, sourcepath.ModeFanOut)
	if v.IsUndefined() {
		return jsonvalue.Value{}, fmt.Errorf("dataPath %q not found", raw)
	}
	return v, nil
}

// splitRecords turns an array into its items and anything else into one record.
func splitRecords(v jsonvalue.Value) []jsonvalue.Value {
	switch v.Kind() {
	case jsonvalue.Array:
		return v.Items()
	case jsonvalue.Undefined, jsonvalue.Null:
		return nil
	}
	return []jsonvalue.Value{v}
}

// stream runs fetch in a goroutine and emits its records.
func stream(ctx context.Context, fetch func() ([]jsonvalue.Value, error)) (<-chan jsonvalue.Value, <-chan error) {
	out := make(chan jsonvalue.Value, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := fetch()
		if err != nil {
			errCh <- err
			return
		}
		for _, rec := range records {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}
