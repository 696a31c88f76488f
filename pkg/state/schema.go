package state

// Schema names. Each maps to one JSONL file (<name>.jsonl) and one cache
// table of the same name.
const (
	SchemaTasks     = "tasks"
	SchemaWorkflows = "workflows"
	SchemaMemory    = "memory"
)

//nolint:gochecknoglobals // Static schema list.
var allSchemas = []string{SchemaTasks, SchemaWorkflows, SchemaMemory}

// cacheDDL creates the cache tables. Each row mirrors one JSONL line; the
// raw column keeps the exact line so reads never lose fields the indexed
// columns do not cover. cache_metadata tracks the file mtime (nanoseconds)
// each table was last synced against.
const cacheDDL = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	created TEXT NOT NULL,
	assigned TEXT,
	completed TEXT,
	raw TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	started TEXT NOT NULL,
	completed TEXT,
	current_step TEXT,
	raw TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
CREATE INDEX IF NOT EXISTS idx_workflows_started ON workflows(started);

CREATE TABLE IF NOT EXISTS memory (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	type TEXT NOT NULL,
	key TEXT,
	raw TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(type);

CREATE TABLE IF NOT EXISTS cache_metadata (
	schema_name TEXT PRIMARY KEY,
	last_synced_nanos INTEGER NOT NULL
);
`
