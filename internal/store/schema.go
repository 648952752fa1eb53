package store

import "fmt"

// SchemaVersion is the current store schema version.
const SchemaVersion = 1

const schema = `
-- Mirror of the last known server-side item collection
CREATE TABLE IF NOT EXISTS cached_items (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

-- Queue of mutations performed offline, not yet acknowledged by the server
CREATE TABLE IF NOT EXISTS offline_mutations (
    ts INTEGER PRIMARY KEY,
    action TEXT NOT NULL,
    item_id TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}'
);
`

// migrate applies the schema and records the version. A store written
// by a newer tool version is refused rather than misread.
func (s *Store) migrate() error {
	var version int
	if err := s.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if version < SchemaVersion {
		if _, err := s.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}
