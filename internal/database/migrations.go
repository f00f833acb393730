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
		Version: "001_init",
		Up: `
-- Activity log (lifecycle events of managed servers)
CREATE TABLE activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    server_id TEXT,
    activity_type TEXT NOT NULL,        -- 'server.start', 'server.crash', 'status.change', etc.
    description TEXT,
    metadata TEXT,                      -- JSON for additional context
    success BOOLEAN DEFAULT 1,
    error_message TEXT
);

CREATE INDEX idx_activity_server_time ON activity_log(server_id, timestamp DESC);
CREATE INDEX idx_activity_type_time ON activity_log(activity_type, timestamp DESC);

-- Resource samples (raw data, pruned by retention)
CREATE TABLE server_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id TEXT NOT NULL,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    cpu_percent REAL NOT NULL,          -- Relative to one core, may exceed 100
    memory_rss INTEGER NOT NULL         -- Bytes
);

CREATE INDEX idx_metrics_server_time ON server_metrics(server_id, timestamp DESC);
`,
		Down: `
DROP TABLE IF EXISTS server_metrics;
DROP TABLE IF EXISTS activity_log;
`,
	},
	{
		Version: "002_log_archives",
		Up: `
CREATE TABLE IF NOT EXISTS log_archives (
    id TEXT PRIMARY KEY,
    server_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    line_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    destination_type TEXT NOT NULL,
    destination_path TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_log_archives_server ON log_archives(server_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_log_archives_status ON log_archives(status);
`,
		Down: `
DROP TABLE IF EXISTS log_archives;
`,
	},
	{
		Version: "003_server_runs",
		Up: `
-- One row per process run, closed when the process exits
CREATE TABLE IF NOT EXISTS server_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    exited_at TIMESTAMP,
    exit_code INTEGER,
    exit_signal TEXT,
    outcome TEXT                        -- 'stopped' or 'crashed'
);

CREATE INDEX IF NOT EXISTS idx_server_runs_server ON server_runs(server_id, started_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS server_runs;
`,
	},
}
