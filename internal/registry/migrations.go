package registry

import (
	"database/sql"
	"strings"

	"github.com/agentevolution/agentevolution/internal/errs"
)

// migration is one versioned, idempotent schema change applied on top of
// the base schema.
type migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

// migrations is the ordered list of schema migrations; entry 1 marks the
// base schema itself.
var migrations = []migration{
	{1, "initial_schema", func(db *sql.DB) error { return nil }}, // base schema from schema.sql
	{2, "usage_events_tool_tokens_index", func(db *sql.DB) error {
		_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_events_tool_tokens ON usage_events(tool_id, tokens_used)`)
		return err
	}},
}

// runMigrations records schema_migrations entries for every migration not
// yet applied. The base schema itself is always re-applied via CREATE
// TABLE/INDEX IF NOT EXISTS before this runs, so migration 1 is a no-op
// marker; later entries carry real incremental changes.
func runMigrations(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreCorrupt, "reading schema version")
	}

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		if err := m.Apply(db); err != nil {
			return errs.Wrap(err, errs.CodeStoreCorrupt, "applying migration "+m.Name)
		}
		if _, err := db.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, datetime('now'))`,
			m.Version, m.Name,
		); err != nil {
			return errs.Wrap(err, errs.CodeStoreCorrupt, "recording migration "+m.Name)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return int(version.Int64), nil
}
