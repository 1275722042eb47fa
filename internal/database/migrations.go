package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('DONE', 'ABORTED')),
    iteration_limited INTEGER DEFAULT 0,
    iterations INTEGER DEFAULT 0,
    max_iterations INTEGER NOT NULL,
    final_version INTEGER,
    report_markdown TEXT,
    report_path TEXT,
    diagnostic TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    version INTEGER NOT NULL,
    body TEXT NOT NULL,
    PRIMARY KEY (session_id, version)
);

CREATE TABLE IF NOT EXISTS report_drafts (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    version INTEGER NOT NULL,
    parent_version INTEGER DEFAULT 0,
    text TEXT NOT NULL,
    bibliography TEXT,
    identified_gaps TEXT,
    repaired INTEGER DEFAULT 0,
    created_at TEXT NOT NULL,
    PRIMARY KEY (session_id, version)
);

CREATE TABLE IF NOT EXISTS review_verdicts (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    draft_version INTEGER NOT NULL,
    verdict TEXT NOT NULL CHECK(verdict IN ('approve', 'revise_report', 'need_more_data')),
    feedback TEXT,
    deficiencies TEXT,
    strengths TEXT,
    additional_queries TEXT,
    details TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (session_id, draft_version)
);

CREATE TABLE IF NOT EXISTS transitions (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    from_stage TEXT NOT NULL,
    to_stage TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    at TEXT NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "subtopic summaries",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS summaries (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    subtopic_id TEXT NOT NULL,
    subtopic TEXT NOT NULL,
    key_findings TEXT NOT NULL,
    citations TEXT,
    fallback INTEGER DEFAULT 0,
    PRIMARY KEY (session_id, subtopic_id)
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
