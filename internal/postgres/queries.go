package postgres

const (
	queryAppendMessage = `
		INSERT INTO messages (room_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, room_id, sender_id, content, created_at
	`

	// newest N, then flipped to ascending
	queryListMessages = `
		SELECT id, room_id, sender_id, content, created_at
		FROM (
			SELECT id, room_id, sender_id, content, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`

	querySchema = `
		CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			room_id    BIGINT      NOT NULL,
			sender_id  BIGINT      NOT NULL,
			content    TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_read    BOOLEAN     NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, id);
	`
)
