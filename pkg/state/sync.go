package state

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"colony/pkg/metrics"
)

// fileMtimeNanos returns the JSONL file's mtime in nanoseconds, 0 when the
// file does not exist yet.
func (e *Engine) fileMtimeNanos(schema string) (int64, error) {
	info, err := os.Stat(e.jsonlPath(schema))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

// syncSchema brings the cache table for one schema up to date with its
// JSONL file. The whole refresh (delete, reinsert, metadata) runs in one
// transaction, so concurrent readers of the cache never see a half-synced
// table.
func (e *Engine) syncSchema(ctx context.Context, schema string) error {
	mtime, err := e.fileMtimeNanos(schema)
	if err != nil {
		return err
	}

	var lastSynced int64
	row := e.db.QueryRowContext(ctx,
		"SELECT last_synced_nanos FROM cache_metadata WHERE schema_name = ?", schema)
	switch err := row.Scan(&lastSynced); err {
	case nil:
		if lastSynced == mtime {
			return nil
		}
	case sql.ErrNoRows:
		// First sync for this schema.
	default:
		return fmt.Errorf("failed to read cache metadata: %w", err)
	}

	lines, err := e.readLines(schema)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+schema); err != nil {
		return fmt.Errorf("failed to clear cache table %s: %w", schema, err)
	}

	for _, line := range lines {
		if err := insertCacheRow(ctx, tx, schema, line); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_metadata (schema_name, last_synced_nanos) VALUES (?, ?)
		ON CONFLICT(schema_name) DO UPDATE SET last_synced_nanos = excluded.last_synced_nanos`,
		schema, mtime); err != nil {
		return fmt.Errorf("failed to update cache metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache refresh: %w", err)
	}

	metrics.Default().StateSync(schema)
	e.logger.DebugDomain("state", "synced cache for %s (%d rows)", schema, len(lines))
	return nil
}

// insertCacheRow indexes one JSONL line into its cache table. Unparsable
// lines are skipped the same way the read path skips them.
func insertCacheRow(ctx context.Context, tx *sql.Tx, schema, line string) error {
	switch schema {
	case SchemaTasks:
		var t Task
		if json.Unmarshal([]byte(line), &t) != nil || t.ID == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, title, status, created, assigned, completed, raw)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title, status = excluded.status,
				created = excluded.created, assigned = excluded.assigned,
				completed = excluded.completed, raw = excluded.raw`,
			t.ID, t.Title, string(t.Status), t.Created.Format(time.RFC3339Nano),
			t.Assigned, formatTimePtr(t.Completed), line)
		return err
	case SchemaWorkflows:
		var w Workflow
		if json.Unmarshal([]byte(line), &w) != nil || w.ID == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflows (id, name, status, started, completed, current_step, raw)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, status = excluded.status,
				started = excluded.started, completed = excluded.completed,
				current_step = excluded.current_step, raw = excluded.raw`,
			w.ID, w.Name, string(w.Status), w.Started.Format(time.RFC3339Nano),
			formatTimePtr(w.Completed), w.CurrentStep, line)
		return err
	case SchemaMemory:
		var m MemoryEntry
		if json.Unmarshal([]byte(line), &m) != nil {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory (timestamp, type, key, raw) VALUES (?, ?, ?, ?)`,
			m.Timestamp.Format(time.RFC3339Nano), string(m.Type), m.Key, line)
		return err
	}
	return fmt.Errorf("unknown schema %q", schema)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// readLines returns the non-empty lines of a schema's JSONL file.
func (e *Engine) readLines(schema string) ([]string, error) {
	file, err := os.Open(e.jsonlPath(schema))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s.jsonl: %w", schema, err)
	}
	return lines, nil
}

// writeLines rewrites the whole JSONL file for a schema, then commits it
// and refreshes the cache so the next read is already in sync.
func (e *Engine) writeLines(ctx context.Context, schema string, entities []any) error {
	var buf []byte
	for _, entity := range entities {
		line, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("failed to marshal %s entry: %w", schema, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if err := os.WriteFile(e.jsonlPath(schema), buf, 0644); err != nil {
		return fmt.Errorf("failed to write %s.jsonl: %w", schema, err)
	}

	e.commitSchema(ctx, schema)
	return e.syncSchema(ctx, schema)
}

// LastSyncedNanos exposes the cache metadata row for a schema, used by
// status displays and tests.
func (e *Engine) LastSyncedNanos(ctx context.Context, schema string) (int64, error) {
	var nanos int64
	err := e.db.QueryRowContext(ctx,
		"SELECT last_synced_nanos FROM cache_metadata WHERE schema_name = ?", schema).Scan(&nanos)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return nanos, err
}
