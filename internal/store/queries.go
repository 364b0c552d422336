package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run operations

// StartRun records a new run and returns it.
func (s *Store) StartRun(kind RunKind) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (id, kind, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Kind), run.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, wrapQueryErr("failed to start run", err)
	}
	return run, nil
}

// FinishRun stamps the run's finish time.
func (s *Store) FinishRun(id string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return wrapQueryErr(fmt.Sprintf("failed to finish run %s", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun retrieves a run by ID. A unique ID prefix is accepted.
func (s *Store) GetRun(id string) (*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, started_at, finished_at
		FROM runs
		WHERE id LIKE ? || '%'
		ORDER BY started_at DESC
		LIMIT 2
	`, id)
	if err != nil {
		return nil, wrapQueryErr(fmt.Sprintf("failed to get run %s", id), err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("run %s not found", id)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("run id %s is ambiguous", id)
	}
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, kind, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, wrapQueryErr("failed to list runs", err)
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var kind, startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&run.ID, &kind, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Kind = RunKind(kind)

		var err error
		run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at for %s: %w", run.ID, err)
		}
		if finishedAt.Valid {
			run.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse finished_at for %s: %w", run.ID, err)
			}
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Item operations

// InsertItem records one item outcome. ID and RecordedAt are filled in.
func (s *Store) InsertItem(item *Item) error {
	if item.RecordedAt.IsZero() {
		item.RecordedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO items (run_id, target, data_type, state, message, size, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		item.RunID,
		item.Target,
		item.DataType,
		item.State,
		item.Message,
		item.Size,
		item.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return wrapQueryErr(fmt.Sprintf("failed to insert item %s/%s", item.Target, item.DataType), err)
	}

	item.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get item id: %w", err)
	}
	return nil
}

// ListItems returns the items of a run in insertion order.
func (s *Store) ListItems(runID string) ([]*Item, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, target, data_type, state, message, size, recorded_at
		FROM items
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, wrapQueryErr(fmt.Sprintf("failed to list items for run %s", runID), err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var item Item
		var message, size sql.NullString
		var recordedAt string
		if err := rows.Scan(&item.ID, &item.RunID, &item.Target, &item.DataType, &item.State, &message, &size, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Message = message.String
		item.Size = size.String
		item.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// CountItems tallies a run's items by state.
func (s *Store) CountItems(runID string) (Counts, error) {
	rows, err := s.db.Query(`
		SELECT state, COUNT(*)
		FROM items
		WHERE run_id = ?
		GROUP BY state
	`, runID)
	if err != nil {
		return Counts{}, wrapQueryErr(fmt.Sprintf("failed to count items for run %s", runID), err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Counts{}, fmt.Errorf("failed to scan item count: %w", err)
		}
		switch state {
		case StateSucceeded:
			c.Succeeded = n
		case StateSkipped:
			c.Skipped = n
		case StateFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// PruneRuns deletes runs that started before cutoff, with their items.
func (s *Store) PruneRuns(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, wrapQueryErr("failed to prune runs", err)
	}
	return res.RowsAffected()
}
