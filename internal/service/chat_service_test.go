package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

type failingStore struct{}

func (failingStore) Append(context.Context, int64, int64, string) (*domain.StoredMessage, error) {
	return nil, errors.New("db down")
}

func (failingStore) List(context.Context, int64) ([]domain.StoredMessage, error) {
	return nil, errors.New("db down")
}

func TestChatService_Save(t *testing.T) {
	ctx := context.Background()
	svc := NewChatService(NewMemoryHistory(), 10)

	msg, err := svc.Save(ctx, 7, 1, "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, int64(7), msg.RoomID)
	assert.Equal(t, int64(1), msg.SenderID)

	_, err = svc.Save(ctx, 7, 1, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = svc.Save(ctx, 7, 1, strings.Repeat("я", 11))
	assert.ErrorIs(t, err, domain.ErrMessageTooLong)

	_, err = svc.Save(ctx, 7, 1, strings.Repeat("я", 10))
	assert.NoError(t, err)
}

func TestChatService_HistoryAscending(t *testing.T) {
	ctx := context.Background()
	svc := NewChatService(NewMemoryHistory(), 0)

	for _, text := range []string{"t1", "t2", "t3"} {
		_, err := svc.Save(ctx, 1, 1, text)
		require.NoError(t, err)
	}
	_, err := svc.Save(ctx, 2, 1, "other room")
	require.NoError(t, err)

	msgs, err := svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, want := range []string{"t1", "t2", "t3"} {
		assert.Equal(t, want, msgs[i].Content)
	}
	assert.False(t, msgs[2].CreatedAt.Before(msgs[0].CreatedAt))
}

func TestChatService_StoreErrorsWrapped(t *testing.T) {
	svc := NewChatService(failingStore{}, 0)

	_, err := svc.Save(context.Background(), 1, 1, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.Append")

	_, err = svc.History(context.Background(), 1)
	require.Error(t, err)
}

func TestMemoryHistory_KeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()

	for i := 0; i < memoryHistoryLimit+5; i++ {
		_, err := h.Append(ctx, 3, 1, strconv.Itoa(i))
		require.NoError(t, err)
	}

	msgs, err := h.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, memoryHistoryLimit)
	assert.Equal(t, "5", msgs[0].Content)
	assert.Equal(t, strconv.Itoa(memoryHistoryLimit+4), msgs[len(msgs)-1].Content)
}
