package service

import (
	"context"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

// memoryHistoryLimit matches the postgres default.
const memoryHistoryLimit = 100

// MemoryHistory keeps the most recent messages of each room in process.
// Used when no postgres dsn is configured and in tests.
type MemoryHistory struct {
	mu     sync.Mutex
	nextID int64
	rooms  map[int64][]domain.StoredMessage
	now    func() time.Time
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{rooms: make(map[int64][]domain.StoredMessage), now: time.Now}
}

func (h *MemoryHistory) Append(_ context.Context, roomID, senderID int64, text string) (*domain.StoredMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	m := domain.StoredMessage{
		ID:        h.nextID,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   text,
		CreatedAt: h.now(),
	}
	msgs := append(h.rooms[roomID], m)
	if len(msgs) > memoryHistoryLimit {
		msgs = append([]domain.StoredMessage(nil), msgs[len(msgs)-memoryHistoryLimit:]...)
	}
	h.rooms[roomID] = msgs
	return &m, nil
}

func (h *MemoryHistory) List(_ context.Context, roomID int64) ([]domain.StoredMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.StoredMessage(nil), h.rooms[roomID]...), nil
}

// SetClock replaces the timestamp source.
func (h *MemoryHistory) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}
