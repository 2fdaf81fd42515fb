package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
//
// Version 1 mirrors the external contact schema so that a fresh database
// can be bootstrapped; against an existing file its statements are no-ops.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	contact_id        INTEGER PRIMARY KEY NOT NULL,
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	spouse_first_name TEXT NOT NULL DEFAULT '',
	spouse_last_name  TEXT NOT NULL DEFAULT '',
	spouse_email      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS history (
	history_id     INTEGER PRIMARY KEY NOT NULL,
	contact_id     INTEGER NOT NULL,
	task_type_code INTEGER NOT NULL,
	subject        TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT '',
	occurred_at    DATETIME NOT NULL,
	last_edited_at DATETIME NOT NULL,
	with_spouse    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_contacts_spouse_email ON contacts(spouse_email COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_history_contact_id ON history(contact_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS imported_messages (
	account_id  TEXT NOT NULL,
	external_id TEXT NOT NULL,
	history_id  INTEGER NOT NULL,
	imported_at DATETIME NOT NULL,
	PRIMARY KEY (account_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_imported_messages_history_id
	ON imported_messages(history_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
