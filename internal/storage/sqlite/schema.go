package sqlite

// Unit-scoped tables use Unix epoch milliseconds (INTEGER) for timestamps;
// datasources and tasks use RFC-3339 TEXT.
const schema = `
CREATE TABLE IF NOT EXISTS datasources (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('relational', 'search')),
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    password TEXT NOT NULL DEFAULT '',
    default_database TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_tasks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    source_id TEXT NOT NULL REFERENCES datasources(id),
    target_id TEXT NOT NULL REFERENCES datasources(id),
    source_kind TEXT NOT NULL,
    target_kind TEXT NOT NULL,
    config_json TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'idle'
        CHECK(status IN ('idle', 'running', 'paused', 'completed', 'failed')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_unit_config (
    task_id TEXT NOT NULL REFERENCES sync_tasks(id) ON DELETE CASCADE,
    unit_name TEXT NOT NULL,
    unit_type TEXT NOT NULL CHECK(unit_type IN ('table', 'index')),
    search_pattern TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    UNIQUE(task_id, unit_name)
);

CREATE TABLE IF NOT EXISTS task_unit_runtime (
    task_id TEXT NOT NULL REFERENCES sync_tasks(id) ON DELETE CASCADE,
    unit_name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'running', 'completed', 'failed')),
    total_records INTEGER NOT NULL DEFAULT 0,
    processed_records INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    started_at INTEGER,
    last_processed_batch INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    UNIQUE(task_id, unit_name)
);
CREATE INDEX IF NOT EXISTS idx_runtime_task ON task_unit_runtime(task_id);

CREATE TABLE IF NOT EXISTS task_unit_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL REFERENCES sync_tasks(id) ON DELETE CASCADE,
    unit_name TEXT NOT NULL,
    search_pattern TEXT NOT NULL DEFAULT '',
    total_records INTEGER NOT NULL DEFAULT 0,
    completed_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_history_task ON task_unit_history(task_id);

CREATE TABLE IF NOT EXISTS synced_indices (
    source_id TEXT NOT NULL,
    unit_name TEXT NOT NULL,
    first_synced_at INTEGER NOT NULL,
    last_synced_at INTEGER NOT NULL,
    sync_count INTEGER NOT NULL,
    last_task_id TEXT NOT NULL DEFAULT '',
    UNIQUE(source_id, unit_name)
);
`
