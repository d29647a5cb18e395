package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live database when CHAT_TEST_POSTGRES_DSN is set.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("CHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := New(ctx, Config{DSN: dsn, MaxConns: 2, ApplicationName: "chat-service-test", Migrate: true})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestNew_BadDSN(t *testing.T) {
	_, err := New(context.Background(), Config{DSN: "postgres://%zz"})
	require.Error(t, err)
}

func TestNewChatRepository_DefaultLimit(t *testing.T) {
	assert.Equal(t, defaultHistoryLimit, NewChatRepository(nil, 0).limit)
	assert.Equal(t, 5, NewChatRepository(nil, 5).limit)
}

func TestChatRepository_AppendList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	roomID := time.Now().UnixNano()
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM messages WHERE room_id = $1`, roomID)
	})

	repo := NewChatRepository(db.Pool, 2)
	for i, text := range []string{"t1", "t2", "t3"} {
		m, err := repo.Append(ctx, roomID, int64(i+1), text)
		require.NoError(t, err)
		assert.Equal(t, roomID, m.RoomID)
		assert.NotZero(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
	}

	msgs, err := repo.List(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "t2", msgs[0].Content)
	assert.Equal(t, "t3", msgs[1].Content)
	assert.Equal(t, int64(3), msgs[1].SenderID)
}
