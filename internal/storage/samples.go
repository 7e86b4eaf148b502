package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"composer/internal/jsonvalue"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("storage: not found")

// Sample is the last good sample document of one source.
type Sample struct {
	SourceID   string
	SourceName string
	Document   jsonvalue.Value
	FetchedAt  time.Time
}

// SampleStore persists one sample per source; saving replaces.
type SampleStore struct {
	db *DB
}

// NewSampleStore creates a new SampleStore.
func NewSampleStore(db *DB) *SampleStore {
	return &SampleStore{db: db}
}

func (s *SampleStore) Save(sm Sample) error {
	doc, err := sm.Document.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	if sm.FetchedAt.IsZero() {
		sm.FetchedAt = time.Now()
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO samples (source_id, source_name, document, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET
		   source_name = excluded.source_name,
		   document = excluded.document,
		   fetched_at = excluded.fetched_at`,
		sm.SourceID, sm.SourceName, string(doc), sm.FetchedAt.UTC(),
	)
	return err
}

func (s *SampleStore) Get(sourceID string) (*Sample, error) {
	row := s.db.conn.QueryRow(
		`SELECT source_id, source_name, document, fetched_at FROM samples WHERE source_id = ?`, sourceID)
	sm, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sample %s: %w", sourceID, ErrNotFound)
	}
	return sm, err
}

// List returns every stored sample ordered by source ID.
func (s *SampleStore) List() ([]Sample, error) {
	rows, err := s.db.conn.Query(
		`SELECT source_id, source_name, document, fetched_at FROM samples ORDER BY source_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sm)
	}
	return out, rows.Err()
}

func (s *SampleStore) Delete(sourceID string) error {
	_, err := s.db.conn.Exec(`DELETE FROM samples WHERE source_id = ?`, sourceID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(sc scanner) (*Sample, error) {
	var sm Sample
	var doc string
	if err := sc.Scan(&sm.SourceID, &sm.SourceName, &doc, &sm.FetchedAt); err != nil {
		return nil, err
	}
	v, err := jsonvalue.Parse([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", sm.SourceID, err)
	}
	sm.Document = v
	return &sm, nil
}
