package persistence

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-rooms/types"
)

// CachedPersister keeps recently used users and rooms in LRU caches, every outgoing message needs its author's
// display fields. Writes go through to the wrapped Persister and refresh or evict the cached copy.
type CachedPersister struct {
	Persister
	users *lru.Cache
	rooms *lru.Cache
}

func NewCachedPersister(p Persister, size int) (*CachedPersister, error) {
	users, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	rooms, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedPersister{Persister: p, users: users, rooms: rooms}, nil
}

// GetUser returns a copy, callers may modify it.
func (c *CachedPersister) GetUser(ctx context.Context, id string) (*types.User, error) {
	if v, ok := c.users.Get(id); ok {
		user := v.(types.User)
		return &user, nil
	}
	user, err := c.Persister.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.users.Add(id, *user)
	return user, nil
}

func (c *CachedPersister) StoreUser(ctx context.Context, user *types.User) error {
	c.users.Remove(user.Id)
	return c.Persister.StoreUser(ctx, user)
}

func (c *CachedPersister) SetUserStatus(ctx context.Context, userId string, status string) error {
	err := c.Persister.SetUserStatus(ctx, userId, status)
	if err != nil {
		c.users.Remove(userId)
		return err
	}
	if v, ok := c.users.Peek(userId); ok {
		user := v.(types.User)
		user.Status = status
		user.LastSeen = time.Now().UTC()
		c.users.Add(userId, user)
	}
	return nil
}

func (c *CachedPersister) ResetUserStatuses(ctx context.Context) error {
	c.users.Purge()
	return c.Persister.ResetUserStatuses(ctx)
}

func (c *CachedPersister) GetRoom(ctx context.Context, id int64) (*types.Room, error) {
	if v, ok := c.rooms.Get(id); ok {
		room := v.(types.Room)
		return &room, nil
	}
	room, err := c.Persister.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	c.rooms.Add(id, *room)
	return room, nil
}

func (c *CachedPersister) StoreRoom(ctx context.Context, room *types.Room) error {
	err := c.Persister.StoreRoom(ctx, room)
	c.rooms.Remove(room.Id)
	return err
}
