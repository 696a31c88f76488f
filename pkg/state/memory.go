package state

import (
	"context"
	"encoding/json"
	"time"
)

// AppendMemory adds one entry to the memory log. The log is append-only;
// existing lines are never rewritten, only re-emitted as-is.
func (e *Engine) AppendMemory(ctx context.Context, entry *MemoryEntry) error {
	if !ValidMemoryType(entry.Type) {
		return &ValidationError{Msg: "unknown memory type: " + string(entry.Type)}
	}
	if entry.Value == "" && entry.Content == "" {
		return &ValidationError{Msg: "memory entry needs a value or content"}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.readMemory(ctx)
	if err != nil {
		return err
	}
	entries = append(entries, *entry)

	entities := make([]any, len(entries))
	for i := range entries {
		entities[i] = &entries[i]
	}
	return e.writeLines(ctx, SchemaMemory, entities)
}

// ListMemory returns memory entries in log order, optionally filtered by
// type. A zero-value filter returns everything.
func (e *Engine) ListMemory(ctx context.Context, filter MemoryType) ([]MemoryEntry, error) {
	entries, err := e.readMemory(ctx)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return entries, nil
	}
	var matched []MemoryEntry
	for _, entry := range entries {
		if entry.Type == filter {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (e *Engine) readMemory(ctx context.Context) ([]MemoryEntry, error) {
	if err := e.syncSchema(ctx, SchemaMemory); err != nil {
		return nil, err
	}
	lines, err := e.readLines(SchemaMemory)
	if err != nil {
		return nil, err
	}
	entries := make([]MemoryEntry, 0, len(lines))
	for _, line := range lines {
		var entry MemoryEntry
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
