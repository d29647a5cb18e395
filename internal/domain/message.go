package domain

import "time"

// StoredMessage is a chat line as it comes back from the history store.
type StoredMessage struct {
	ID        int64     `db:"id"`
	RoomID    int64     `db:"room_id"`
	SenderID  int64     `db:"sender_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}
