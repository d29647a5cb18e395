package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

const DefaultMaxMessageLen = 4000

// HistoryStore persists chat lines per room.
type HistoryStore interface {
	Append(ctx context.Context, roomID, senderID int64, text string) (*domain.StoredMessage, error)
	List(ctx context.Context, roomID int64) ([]domain.StoredMessage, error)
}

type ChatService struct {
	store  HistoryStore
	maxLen int
}

func NewChatService(store HistoryStore, maxLen int) *ChatService {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	return &ChatService{store: store, maxLen: maxLen}
}

// Save validates text and stores it trimmed.
func (s *ChatService) Save(ctx context.Context, roomID, userID int64, text string) (*domain.StoredMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.maxLen {
		return nil, domain.ErrMessageTooLong
	}

	msg, err := s.store.Append(ctx, roomID, userID, text)
	if err != nil {
		return nil, fmt.Errorf("store.Append: %w", err)
	}
	return msg, nil
}

// History returns the room's messages in ascending order.
func (s *ChatService) History(ctx context.Context, roomID int64) ([]domain.StoredMessage, error) {
	msgs, err := s.store.List(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("store.List: %w", err)
	}
	return msgs, nil
}
