package store

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name      string
	schema    string
	numbered  bool // $1, $2 placeholders instead of ?
	singleCon bool // serialize access through one connection

	// syncExperimentIDs moves the id generator past explicitly inserted
	// ids. Empty when the database tracks them itself.
	syncExperimentIDs string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    variants TEXT NOT NULL,
    goal_type TEXT NOT NULL DEFAULT '',
    goal_config TEXT,
    lifecycle TEXT NOT NULL,
    consent TEXT NOT NULL,
    activated_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS raw_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL,
    variant_id TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    session_id TEXT,
    event_type TEXT NOT NULL,
    page_context TEXT NOT NULL DEFAULT '',
    goal_type TEXT,
    goal_detail TEXT,
    processed INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_events_unprocessed ON raw_events(processed, created_at);
CREATE INDEX IF NOT EXISTS idx_raw_events_group ON raw_events(experiment_id, variant_id, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_events_session_dedup
    ON raw_events(experiment_id, variant_id, event_type, session_id) WHERE session_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS aggregated_stats (
    experiment_id INTEGER NOT NULL,
    variant_id TEXT NOT NULL,
    stat_date TEXT NOT NULL,
    impressions INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (experiment_id, variant_id, stat_date)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS experiments (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    variants TEXT NOT NULL,
    goal_type TEXT NOT NULL DEFAULT '',
    goal_config TEXT,
    lifecycle TEXT NOT NULL,
    consent TEXT NOT NULL,
    activated_at BIGINT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS raw_events (
    id BIGSERIAL PRIMARY KEY,
    experiment_id BIGINT NOT NULL,
    variant_id TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    session_id TEXT,
    event_type TEXT NOT NULL,
    page_context TEXT NOT NULL DEFAULT '',
    goal_type TEXT,
    goal_detail TEXT,
    processed SMALLINT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_events_unprocessed ON raw_events(processed, created_at);
CREATE INDEX IF NOT EXISTS idx_raw_events_group ON raw_events(experiment_id, variant_id, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_events_session_dedup
    ON raw_events(experiment_id, variant_id, event_type, session_id) WHERE session_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS aggregated_stats (
    experiment_id BIGINT NOT NULL,
    variant_id TEXT NOT NULL,
    stat_date TEXT NOT NULL,
    impressions BIGINT NOT NULL DEFAULT 0,
    conversions BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (experiment_id, variant_id, stat_date)
);
`

var dialects = map[string]dialect{
	DriverSQLite:   {name: DriverSQLite, schema: sqliteSchema, singleCon: true},
	DriverPostgres: {
		name:     DriverPostgres,
		schema:   postgresSchema,
		numbered: true,
		syncExperimentIDs: `SELECT setval(pg_get_serial_sequence('experiments', 'id'),
		                                  (SELECT MAX(id) FROM experiments))`,
	},
}

func lookupDialect(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
