package persistence

import (
	"context"

	"github.com/tcriess/lightspeed-rooms/types"
)

// Persister is the durable store for users, rooms, messages and private messages. Messages are
// append-only, deletion only sets their Deleted flag.
//
// Lookups of absent records return an error wrapping types.ErrNotFound, soft-deleting a message twice
// returns types.ErrAlreadyDeleted.
type Persister interface {
	CreateMessage(context.Context, *types.Message) error
	GetMessage(context.Context, int64) (*types.Message, error)
	ListMessages(ctx context.Context, roomId int64, limit int) ([]*types.Message, error) // oldest first
	SoftDeleteMessage(context.Context, int64) error

	CreatePrivateMessage(context.Context, *types.PrivateMessage) error
	GetPrivateMessage(context.Context, int64) (*types.PrivateMessage, error)
	ListPrivateMessages(ctx context.Context, roomKey string, limit int) ([]*types.PrivateMessage, error) // oldest first
	SoftDeletePrivateMessage(context.Context, int64) error

	StoreRoom(context.Context, *types.Room) error
	GetRoom(context.Context, int64) (*types.Room, error)
	GetRooms(context.Context) ([]*types.Room, error)

	StoreUser(context.Context, *types.User) error
	GetUser(context.Context, string) (*types.User, error)
	SetUserStatus(ctx context.Context, userId string, status string) error
	ResetUserStatuses(context.Context) error
	OnlineUserIds(context.Context) ([]string, error) // users whose persisted status is online

	Close() error
}
