package postgres

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS listings (
	id        TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chat_rooms (
	id                  TEXT PRIMARY KEY,
	listing_id          TEXT NOT NULL,
	buyer_id            TEXT NOT NULL,
	seller_id           TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'active'
	                    CHECK (status IN ('active', 'closed', 'archived')),
	created_at          TIMESTAMPTZ NOT NULL,
	last_activity       TIMESTAMPTZ NOT NULL,
	buyer_last_activity TIMESTAMPTZ NOT NULL,
	closed_at           TIMESTAMPTZ,
	closed_by           TEXT,
	buyer_last_read     TIMESTAMPTZ,
	seller_last_read    TIMESTAMPTZ,
	message_seq         BIGINT NOT NULL DEFAULT 0,
	last_message_at     TIMESTAMPTZ,
	UNIQUE (listing_id, buyer_id)
);

CREATE INDEX IF NOT EXISTS idx_chat_rooms_buyer ON chat_rooms (buyer_id, last_activity DESC);
CREATE INDEX IF NOT EXISTS idx_chat_rooms_seller ON chat_rooms (seller_id, last_activity DESC);
CREATE INDEX IF NOT EXISTS idx_chat_rooms_idle ON chat_rooms (buyer_last_activity) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS chat_messages (
	id              TEXT PRIMARY KEY,
	room_id         TEXT NOT NULL REFERENCES chat_rooms (id) ON DELETE CASCADE,
	seq             BIGINT NOT NULL,
	sender_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	attachment_ref  TEXT,
	attachment_name TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	edited_at       TIMESTAMPTZ,
	is_edited       BOOLEAN NOT NULL DEFAULT FALSE,
	is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (room_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created ON chat_messages (room_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	room_id      TEXT NOT NULL,
	message_id   TEXT,
	kind         TEXT NOT NULL,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	is_read      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL,
	read_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_id, created_at DESC, id DESC);
`
