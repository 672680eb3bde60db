package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/types"
)

func newSQLite(t *testing.T) Persister {
	cfg := config.Default()
	cfg.PersistenceConfig.Type = "sqlite"
	cfg.PersistenceConfig.DSN = filepath.Join(t.TempDir(), "test.db")
	cfg.PersistenceConfig.MaxOpenConns = 1
	p, err := NewGormPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newBuntMemory(t *testing.T) Persister {
	p, err := openBuntDB(":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func forEachPersister(t *testing.T, f func(t *testing.T, p Persister)) {
	t.Run("sqlite", func(t *testing.T) { f(t, newSQLite(t)) })
	t.Run("buntdb", func(t *testing.T) { f(t, newBuntMemory(t)) })
}

func TestRoomsAndUsers(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		ctx := context.Background()
		require.NoError(t, p.StoreUser(ctx, &types.User{Id: "3", FirstName: "Ada", Email: "ada@example.com"}))

		user, err := p.GetUser(ctx, "3")
		require.NoError(t, err)
		assert.Equal(t, "Ada", user.FirstName)
		assert.Equal(t, types.StatusOffline, user.Status)

		_, err = p.GetUser(ctx, "nobody")
		assert.True(t, errors.Is(err, types.ErrNotFound))

		room := &types.Room{Name: "general", CreatedBy: "3"}
		require.NoError(t, p.StoreRoom(ctx, room))
		assert.NotZero(t, room.Id)

		got, err := p.GetRoom(ctx, room.Id)
		require.NoError(t, err)
		assert.Equal(t, "general", got.Name)
		assert.Equal(t, "3", got.CreatedBy)

		_, err = p.GetRoom(ctx, room.Id+100)
		assert.True(t, errors.Is(err, types.ErrNotFound))

		require.NoError(t, p.StoreRoom(ctx, &types.Room{Name: "random", CreatedBy: "3"}))
		rooms, err := p.GetRooms(ctx)
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, "general", rooms[0].Name)
	})
}

func TestUserStatusMirror(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		ctx := context.Background()
		require.NoError(t, p.StoreUser(ctx, &types.User{Id: "3"}))
		require.NoError(t, p.StoreUser(ctx, &types.User{Id: "7"}))

		require.NoError(t, p.SetUserStatus(ctx, "3", types.StatusOnline))
		require.NoError(t, p.SetUserStatus(ctx, "7", types.StatusOnline))
		user, err := p.GetUser(ctx, "3")
		require.NoError(t, err)
		assert.Equal(t, types.StatusOnline, user.Status)
		assert.False(t, user.LastSeen.IsZero())

		assert.True(t, errors.Is(p.SetUserStatus(ctx, "nobody", types.StatusOnline), types.ErrNotFound))

		online, err := p.OnlineUserIds(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"3", "7"}, online)

		require.NoError(t, p.ResetUserStatuses(ctx))
		online, err = p.OnlineUserIds(ctx)
		require.NoError(t, err)
		assert.Empty(t, online)
		for _, id := range []string{"3", "7"} {
			user, err := p.GetUser(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, types.StatusOffline, user.Status, id)
		}
	})
}

func TestMessagesOldestFirstWithLimit(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 5; i++ {
			m := &types.Message{RoomId: 5, UserId: "3", Content: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Second)}
			require.NoError(t, p.CreateMessage(ctx, m))
			assert.NotZero(t, m.Id)
		}
		require.NoError(t, p.CreateMessage(ctx, &types.Message{RoomId: 6, UserId: "3", Content: "other room"}))

		messages, err := p.ListMessages(ctx, 5, 3)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, "c", messages[0].Content)
		assert.Equal(t, "d", messages[1].Content)
		assert.Equal(t, "e", messages[2].Content)

		messages, err = p.ListMessages(ctx, 5, 50)
		require.NoError(t, err)
		assert.Len(t, messages, 5)

		messages, err = p.ListMessages(ctx, 99, 50)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestSoftDeleteKeepsRow(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		ctx := context.Background()
		m := &types.Message{RoomId: 5, UserId: "3", Content: "hi"}
		require.NoError(t, p.CreateMessage(ctx, m))

		require.NoError(t, p.SoftDeleteMessage(ctx, m.Id))
		got, err := p.GetMessage(ctx, m.Id)
		require.NoError(t, err)
		assert.True(t, got.Deleted)
		assert.Equal(t, "hi", got.Content)

		err = p.SoftDeleteMessage(ctx, m.Id)
		assert.True(t, errors.Is(err, types.ErrAlreadyDeleted))
		err = p.SoftDeleteMessage(ctx, m.Id+1000)
		assert.True(t, errors.Is(err, types.ErrNotFound))

		messages, err := p.ListMessages(ctx, 5, 10)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.True(t, messages[0].Deleted)
	})
}

func TestPrivateMessages(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		ctx := context.Background()
		key := types.PrivateRoomKey("3", "7")
		for _, content := range []string{"one", "two", "three"} {
			require.NoError(t, p.CreatePrivateMessage(ctx, &types.PrivateMessage{RoomKey: key, SenderId: "3", ReceiverId: "7", Content: content}))
		}
		require.NoError(t, p.CreatePrivateMessage(ctx, &types.PrivateMessage{RoomKey: types.PrivateRoomKey("3", "8"), SenderId: "3", ReceiverId: "8", Content: "else"}))

		messages, err := p.ListPrivateMessages(ctx, key, 2)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "two", messages[0].Content)
		assert.Equal(t, "three", messages[1].Content)

		require.NoError(t, p.SoftDeletePrivateMessage(ctx, messages[0].Id))
		got, err := p.GetPrivateMessage(ctx, messages[0].Id)
		require.NoError(t, err)
		assert.True(t, got.Deleted)
		assert.True(t, errors.Is(p.SoftDeletePrivateMessage(ctx, messages[0].Id), types.ErrAlreadyDeleted))

		_, err = p.GetPrivateMessage(ctx, 999)
		assert.True(t, errors.Is(err, types.ErrNotFound))
	})
}

func TestBuntDBFileIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	p, err := openBuntDB(path, "")
	require.NoError(t, err)

	_, err = openBuntDB(path, "")
	assert.Error(t, err)

	require.NoError(t, p.Close())
	p, err = openBuntDB(path, "")
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestNewPersister(t *testing.T) {
	cfg := config.Default()
	p, err := NewPersister(cfg)
	require.NoError(t, err)
	_, cached := p.(*CachedPersister)
	assert.True(t, cached)
	require.NoError(t, p.Close())

	cfg.PersistenceConfig.Type = "mongodb"
	_, err = NewPersister(cfg)
	assert.Error(t, err)
}
