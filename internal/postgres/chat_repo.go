package postgres

import (
	"context"

	"github.com/cwrk-planet/chat-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultHistoryLimit = 100

// ChatRepository is the room history store.
type ChatRepository struct {
	db    *pgxpool.Pool
	limit int
}

func NewChatRepository(db *pgxpool.Pool, historyLimit int) *ChatRepository {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &ChatRepository{db: db, limit: historyLimit}
}

func (r *ChatRepository) Append(ctx context.Context, roomID, senderID int64, text string) (*domain.StoredMessage, error) {
	row := r.db.QueryRow(ctx, queryAppendMessage, roomID, senderID, text)

	var m domain.StoredMessage
	if err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns the most recent messages of a room, oldest first.
func (r *ChatRepository) List(ctx context.Context, roomID int64) ([]domain.StoredMessage, error) {
	rows, err := r.db.Query(ctx, queryListMessages, roomID, r.limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StoredMessage, 0, r.limit)
	for rows.Next() {
		var m domain.StoredMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
