package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/types"
)

type countingPersister struct {
	Persister
	userReads int
	roomReads int
}

func (c *countingPersister) GetUser(ctx context.Context, id string) (*types.User, error) {
	c.userReads++
	return c.Persister.GetUser(ctx, id)
}

func (c *countingPersister) GetRoom(ctx context.Context, id int64) (*types.Room, error) {
	c.roomReads++
	return c.Persister.GetRoom(ctx, id)
}

func TestCachedPersister(t *testing.T) {
	ctx := context.Background()
	inner := &countingPersister{Persister: newBuntMemory(t)}
	c, err := NewCachedPersister(inner, 16)
	require.NoError(t, err)

	require.NoError(t, c.StoreUser(ctx, &types.User{Id: "3", FirstName: "Ada"}))
	for i := 0; i < 3; i++ {
		user, err := c.GetUser(ctx, "3")
		require.NoError(t, err)
		assert.Equal(t, "Ada", user.FirstName)
		user.FirstName = "changed by caller"
	}
	assert.Equal(t, 1, inner.userReads)

	require.NoError(t, c.SetUserStatus(ctx, "3", types.StatusOnline))
	user, err := c.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, user.Status)
	assert.Equal(t, 1, inner.userReads)

	require.NoError(t, c.StoreUser(ctx, &types.User{Id: "3", FirstName: "Grace"}))
	user, err = c.GetUser(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.FirstName)
	assert.Equal(t, 2, inner.userReads)

	room := &types.Room{Name: "general"}
	require.NoError(t, c.StoreRoom(ctx, room))
	_, err = c.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	_, err = c.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.roomReads)

	// misses are not cached
	_, err = c.GetRoom(ctx, 42)
	assert.Error(t, err)
	_, err = c.GetRoom(ctx, 42)
	assert.Error(t, err)
	assert.Equal(t, 3, inner.roomReads)
}
