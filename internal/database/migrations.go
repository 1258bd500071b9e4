package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_datasets",
		Up: `
CREATE TABLE datasets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    dataset_display_name TEXT NOT NULL UNIQUE,
    version_number INTEGER NOT NULL,
    upload_date DATETIME NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    data BLOB NOT NULL
);

CREATE INDEX idx_datasets_version ON datasets(version_number);
`,
		Down: `DROP TABLE datasets;`,
	},
	{
		Version: "002_task_states",
		Up: `
CREATE TABLE task_states (
    task_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    current INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 100,
    updated_at DATETIME NOT NULL
);

CREATE INDEX idx_task_states_state ON task_states(state);
`,
		Down: `DROP TABLE task_states;`,
	},
	{
		Version: "003_backup_operations",
		Up: `
CREATE TABLE backup_operations (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    artifact_name TEXT NOT NULL DEFAULT '',
    destination_type TEXT NOT NULL,
    destination_path TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    correlation_id TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE INDEX idx_backup_operations_artifact ON backup_operations(artifact_name);
CREATE INDEX idx_backup_operations_started ON backup_operations(started_at);
`,
		Down: `DROP TABLE backup_operations;`,
	},
}
