package storage

import (
	"time"

	"github.com/google/uuid"
)

// RunLog is a historical record of one sample refresh.
type RunLog struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"sourceId"`
	Trigger    string    `json:"trigger"` // "manual" | "schedule" | "file_watch"
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"` // "success" | "error"
	Entries    int       `json:"entries"`
	Error      string    `json:"error,omitempty"`
}

// RunStore records refresh runs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) Create(run *RunLog) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Trigger == "" {
		run.Trigger = "manual"
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO refresh_runs (id, source_id, trigger_type, started_at, finished_at, status, entries, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SourceID, run.Trigger, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Status, run.Entries, run.Error,
	)
	return err
}

// List returns the newest runs of sourceID first, at most limit (0 = all).
// An empty sourceID lists every source.
func (s *RunStore) List(sourceID string, limit int) ([]RunLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.conn.Query(
		`SELECT id, source_id, trigger_type, started_at, finished_at, status, entries, error
		 FROM refresh_runs WHERE (? = '' OR source_id = ?)
		 ORDER BY started_at DESC LIMIT ?`,
		sourceID, sourceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunLog
	for rows.Next() {
		var r RunLog
		if err := rows.Scan(&r.ID, &r.SourceID, &r.Trigger, &r.StartedAt, &r.FinishedAt,
			&r.Status, &r.Entries, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes all but the newest keep runs of every source.
func (s *RunStore) Prune(keep int) (int64, error) {
	res, err := s.db.conn.Exec(
		`DELETE FROM refresh_runs WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY source_id ORDER BY started_at DESC) AS n
				FROM refresh_runs
			) WHERE n > ?
		)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
