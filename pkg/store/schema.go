package store

// schema is applied in order; parents precede children.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS data_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		environment TEXT NOT NULL,
		connection TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		polling_interval INTEGER NOT NULL DEFAULT 0,
		last_sync_time TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		environment TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		criticality TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vulnerabilities (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		cve TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		severity TEXT NOT NULL,
		cvss REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		detected_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS patches (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		released_at TEXT,
		applied_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS configurations (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		settings TEXT NOT NULL DEFAULT '{}',
		compliant INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_scores (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT '',
		overall_score INTEGER NOT NULL,
		factors TEXT NOT NULL,
		trend TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 0,
		related_records TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		detected_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		assignee TEXT NOT NULL DEFAULT '',
		affected_assets TEXT NOT NULL DEFAULT '[]',
		related_anomalies TEXT NOT NULL DEFAULT '[]',
		resolved_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS incident_events (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
		timestamp TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dashboards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dashboard_widgets (
		id TEXT PRIMARY KEY,
		dashboard_id TEXT NOT NULL REFERENCES dashboards(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		position TEXT NOT NULL DEFAULT '{}',
		config TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incident_events_incident ON incident_events(incident_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_scores_environment ON risk_scores(environment, calculated_at)`,
}
