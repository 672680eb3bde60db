package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
	"github.com/tidwall/buntdb"
)

const (
	buntMemory = ":memory:"

	userPrefix    = "user:"
	roomPrefix    = "room:"
	messagePrefix = "msg:"
	privatePrefix = "pm:"

	roomSeq    = "seq:room"
	messageSeq = "seq:msg"
	privateSeq = "seq:pm"

	messagesByRoom   = "msg_room"
	privateByRoomKey = "pm_room_key"
)

// BuntDBPersist stores everything as JSON documents in a buntdb file (or in memory). The file is guarded by an
// exclusive lock, buntdb does not support several processes writing the same file.
type BuntDBPersist struct {
	db   *buntdb.DB
	lock *flock.Flock
}

func NewBuntPersister(cfg *config.Config) (*BuntDBPersist, error) {
	return openBuntDB(cfg.PersistenceConfig.DSN, cfg.PersistenceConfig.FlockPath)
}

func openBuntDB(fileName, lockPath string) (*BuntDBPersist, error) {
	if fileName == "" {
		fileName = buntMemory
	}
	p := &BuntDBPersist{}
	if fileName != buntMemory {
		if lockPath == "" {
			lockPath = fileName + ".lock"
		}
		p.lock = flock.New(lockPath)
		locked, err := p.lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("database %s is in use by another process", fileName)
		}
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		p.unlock()
		return nil, err
	}
	p.db = db
	err = db.CreateIndex(messagesByRoom, messagePrefix+"*", buntdb.IndexJSON("room_id"), buntdb.IndexJSON("id"))
	if err == nil {
		err = db.CreateIndex(privateByRoomKey, privatePrefix+"*", buntdb.IndexJSONCaseSensitive("room_key"), buntdb.IndexJSON("id"))
	}
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *BuntDBPersist) unlock() {
	if p.lock == nil {
		return
	}
	if err := p.lock.Unlock(); err != nil {
		globals.AppLogger.Error("could not release database lock", "error", err)
	}
}

func idKey(prefix string, id int64) string {
	// zero-padded so that key order equals id order
	return fmt.Sprintf("%s%020d", prefix, id)
}

func nextId(tx *buntdb.Tx, seqKey string) (int64, error) {
	var current int64
	val, err := tx.Get(seqKey)
	switch {
	case errors.Is(err, buntdb.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		current, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, err
		}
	}
	current++
	_, _, err = tx.Set(seqKey, strconv.FormatInt(current, 10), nil)
	return current, err
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(raw), nil)
	return err
}

func getJSON(tx *buntdb.Tx, key string, v interface{}, what string) error {
	raw, err := tx.Get(key)
	if errors.Is(err, buntdb.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, types.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func (p *BuntDBPersist) CreateMessage(_ context.Context, message *types.Message) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		id, err := nextId(tx, messageSeq)
		if err != nil {
			return err
		}
		message.Id = id
		if message.CreatedAt.IsZero() {
			message.CreatedAt = time.Now().UTC()
		}
		return setJSON(tx, idKey(messagePrefix, id), message)
	})
}

func (p *BuntDBPersist) GetMessage(_ context.Context, id int64) (*types.Message, error) {
	message := &types.Message{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, idKey(messagePrefix, id), message, "message")
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// ListMessages walks the room index backwards from the newest message of the room and returns the
// collected page in chronological order.
func (p *BuntDBPersist) ListMessages(_ context.Context, roomId int64, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0, limit)
	pivot := fmt.Sprintf(`{"room_id":%d,"id":%d}`, roomId, int64(math.MaxInt64))
	err := p.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.DescendLessOrEqual(messagesByRoom, pivot, func(key, val string) bool {
			message := &types.Message{}
			if iterErr = json.Unmarshal([]byte(val), message); iterErr != nil {
				return false
			}
			if message.RoomId != roomId {
				return false
			}
			messages = append(messages, message)
			return len(messages) < limit
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func (p *BuntDBPersist) SoftDeleteMessage(_ context.Context, id int64) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		key := idKey(messagePrefix, id)
		message := &types.Message{}
		if err := getJSON(tx, key, message, fmt.Sprintf("message %d", id)); err != nil {
			return err
		}
		if message.Deleted {
			return fmt.Errorf("message %d: %w", id, types.ErrAlreadyDeleted)
		}
		message.Deleted = true
		return setJSON(tx, key, message)
	})
}

func (p *BuntDBPersist) CreatePrivateMessage(_ context.Context, message *types.PrivateMessage) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		id, err := nextId(tx, privateSeq)
		if err != nil {
			return err
		}
		message.Id = id
		if message.CreatedAt.IsZero() {
			message.CreatedAt = time.Now().UTC()
		}
		return setJSON(tx, idKey(privatePrefix, id), message)
	})
}

func (p *BuntDBPersist) GetPrivateMessage(_ context.Context, id int64) (*types.PrivateMessage, error) {
	message := &types.PrivateMessage{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, idKey(privatePrefix, id), message, "private message")
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (p *BuntDBPersist) ListPrivateMessages(_ context.Context, roomKey string, limit int) ([]*types.PrivateMessage, error) {
	messages := make([]*types.PrivateMessage, 0, limit)
	rawKey, err := json.Marshal(roomKey)
	if err != nil {
		return nil, err
	}
	pivot := fmt.Sprintf(`{"room_key":%s,"id":%d}`, rawKey, int64(math.MaxInt64))
	err = p.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.DescendLessOrEqual(privateByRoomKey, pivot, func(key, val string) bool {
			message := &types.PrivateMessage{}
			if iterErr = json.Unmarshal([]byte(val), message); iterErr != nil {
				return false
			}
			if message.RoomKey != roomKey {
				return false
			}
			messages = append(messages, message)
			return len(messages) < limit
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func (p *BuntDBPersist) SoftDeletePrivateMessage(_ context.Context, id int64) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		key := idKey(privatePrefix, id)
		message := &types.PrivateMessage{}
		if err := getJSON(tx, key, message, fmt.Sprintf("private message %d", id)); err != nil {
			return err
		}
		if message.Deleted {
			return fmt.Errorf("private message %d: %w", id, types.ErrAlreadyDeleted)
		}
		message.Deleted = true
		return setJSON(tx, key, message)
	})
}

func (p *BuntDBPersist) StoreRoom(_ context.Context, room *types.Room) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		if room.Id == 0 {
			id, err := nextId(tx, roomSeq)
			if err != nil {
				return err
			}
			room.Id = id
		}
		if room.CreatedAt.IsZero() {
			room.CreatedAt = time.Now().UTC()
		}
		return setJSON(tx, idKey(roomPrefix, room.Id), room)
	})
}

func (p *BuntDBPersist) GetRoom(_ context.Context, id int64) (*types.Room, error) {
	room := &types.Room{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, idKey(roomPrefix, id), room, "room")
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (p *BuntDBPersist) GetRooms(_ context.Context) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.AscendKeys(roomPrefix+"*", func(key, val string) bool {
			room := &types.Room{}
			if iterErr = json.Unmarshal([]byte(val), room); iterErr != nil {
				return false
			}
			rooms = append(rooms, room)
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	return rooms, err
}

func (p *BuntDBPersist) StoreUser(_ context.Context, user *types.User) error {
	if user.Id == "" || strings.ContainsAny(user.Id, "*?") {
		return fmt.Errorf("invalid user id %q", user.Id)
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = types.StatusOffline
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, userPrefix+user.Id, user)
	})
}

func (p *BuntDBPersist) GetUser(_ context.Context, id string) (*types.User, error) {
	if id == "" {
		return nil, fmt.Errorf("no user id: %w", types.ErrNotFound)
	}
	user := &types.User{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, userPrefix+id, user, "user")
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (p *BuntDBPersist) SetUserStatus(_ context.Context, userId string, status string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		user := &types.User{}
		if err := getJSON(tx, userPrefix+userId, user, "user "+userId); err != nil {
			return err
		}
		user.Status = status
		user.LastSeen = time.Now().UTC()
		return setJSON(tx, userPrefix+userId, user)
	})
}

func (p *BuntDBPersist) ResetUserStatuses(_ context.Context) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		stale := make([]*types.User, 0)
		var iterErr error
		err := tx.AscendKeys(userPrefix+"*", func(key, val string) bool {
			user := &types.User{}
			if iterErr = json.Unmarshal([]byte(val), user); iterErr != nil {
				return false
			}
			if user.Status != types.StatusOffline {
				stale = append(stale, user)
			}
			return true
		})
		if err != nil {
			return err
		}
		if iterErr != nil {
			return iterErr
		}
		for _, user := range stale {
			user.Status = types.StatusOffline
			if err := setJSON(tx, userPrefix+user.Id, user); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BuntDBPersist) OnlineUserIds(_ context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.AscendKeys(userPrefix+"*", func(key, val string) bool {
			user := &types.User{}
			if iterErr = json.Unmarshal([]byte(val), user); iterErr != nil {
				return false
			}
			if user.Status == types.StatusOnline {
				ids = append(ids, user.Id)
			}
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *BuntDBPersist) Close() error {
	var err error
	if p.db != nil {
		err = p.db.Close()
	}
	p.unlock()
	return err
}
