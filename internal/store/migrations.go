package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
// Timestamps are unix milliseconds.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				contact_id       TEXT PRIMARY KEY,
				display_name     TEXT NOT NULL DEFAULT '',
				last_message     TEXT NOT NULL DEFAULT '',
				last_message_at  INTEGER NOT NULL DEFAULT 0,
				unread_count     INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
				status           TEXT NOT NULL DEFAULT 'active',
				ai_enabled       INTEGER NOT NULL DEFAULT 1,
				ai_paused        INTEGER NOT NULL DEFAULT 0,
				stage            TEXT NOT NULL DEFAULT 'ai_active',
				avatar_url       TEXT,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL
			);

			CREATE INDEX idx_conversations_last_message_at ON conversations (last_message_at);

			CREATE TABLE messages (
				contact_id           TEXT NOT NULL,
				id                   TEXT NOT NULL,
				provider_message_id  TEXT NOT NULL DEFAULT '',
				content              TEXT NOT NULL DEFAULT '',
				role                 TEXT NOT NULL,
				sender_name          TEXT NOT NULL DEFAULT '',
				sent_at              INTEGER NOT NULL,
				delivery_status      TEXT NOT NULL DEFAULT 'sent',
				media_type           TEXT NOT NULL DEFAULT '',
				media_url            TEXT NOT NULL DEFAULT '',
				media_fallback       INTEGER NOT NULL DEFAULT 0,
				reply_to             TEXT,
				reactions            TEXT NOT NULL DEFAULT '[]',
				edited               INTEGER NOT NULL DEFAULT 0,
				deleted              INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (contact_id, id)
			);

			CREATE UNIQUE INDEX idx_messages_provider_id
				ON messages (contact_id, provider_message_id)
				WHERE provider_message_id <> '';
			CREATE INDEX idx_messages_sent_at ON messages (contact_id, sent_at);
			CREATE INDEX idx_messages_echo ON messages (contact_id, role, content);
		`,
	},
	{
		Version: 2,
		Name:    "create admin config",
		SQL: `
			CREATE TABLE admin_config (
				id          INTEGER PRIMARY KEY CHECK (id = 1),
				data        TEXT NOT NULL,
				updated_at  INTEGER NOT NULL
			);
		`,
	},
}
