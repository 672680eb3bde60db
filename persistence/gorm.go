package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (*GormPersist, error) {
	db, err := setupGormDB(cfg.PersistenceConfig)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg config.PersistenceConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("persistence.dsn is required")
	}
	var dial gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dial = postgres.Open(cfg.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	err = db.AutoMigrate(&types.User{}, &types.Room{}, &types.Message{}, &types.PrivateMessage{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, types.ErrNotFound)
	}
	return err
}

func (p *GormPersist) CreateMessage(ctx context.Context, message *types.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return p.db.WithContext(ctx).Create(message).Error
}

func (p *GormPersist) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	message := &types.Message{}
	err := p.db.WithContext(ctx).First(message, id).Error
	if err != nil {
		return nil, notFound(err, "message")
	}
	return message, nil
}

func (p *GormPersist) ListMessages(ctx context.Context, roomId int64, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0, limit)
	err := p.db.WithContext(ctx).Where("room_id = ?", roomId).
		Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func (p *GormPersist) SoftDeleteMessage(ctx context.Context, id int64) error {
	return p.softDelete(ctx, &types.Message{}, id, "message")
}

func (p *GormPersist) CreatePrivateMessage(ctx context.Context, message *types.PrivateMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return p.db.WithContext(ctx).Create(message).Error
}

func (p *GormPersist) GetPrivateMessage(ctx context.Context, id int64) (*types.PrivateMessage, error) {
	message := &types.PrivateMessage{}
	err := p.db.WithContext(ctx).First(message, id).Error
	if err != nil {
		return nil, notFound(err, "private message")
	}
	return message, nil
}

func (p *GormPersist) ListPrivateMessages(ctx context.Context, roomKey string, limit int) ([]*types.PrivateMessage, error) {
	messages := make([]*types.PrivateMessage, 0, limit)
	err := p.db.WithContext(ctx).Where("room_key = ?", roomKey).
		Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

func (p *GormPersist) SoftDeletePrivateMessage(ctx context.Context, id int64) error {
	return p.softDelete(ctx, &types.PrivateMessage{}, id, "private message")
}

// softDelete flags the row in one transaction, telling apart absent rows and rows that were already flagged.
func (p *GormPersist) softDelete(ctx context.Context, model interface{}, id int64, what string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(model).Where("id = ? AND deleted = ?", id, false).Update("deleted", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var count int64
		err := tx.Model(model).Where("id = ?", id).Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%s %d: %w", what, id, types.ErrNotFound)
		}
		return fmt.Errorf("%s %d: %w", what, id, types.ErrAlreadyDeleted)
	})
}

func (p *GormPersist) StoreRoom(ctx context.Context, room *types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(room).Error
}

func (p *GormPersist) GetRoom(ctx context.Context, id int64) (*types.Room, error) {
	room := &types.Room{}
	err := p.db.WithContext(ctx).First(room, id).Error
	if err != nil {
		return nil, notFound(err, "room")
	}
	return room, nil
}

func (p *GormPersist) GetRooms(ctx context.Context) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.WithContext(ctx).Order("id").Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) StoreUser(ctx context.Context, user *types.User) error {
	if user.Status == "" {
		user.Status = types.StatusOffline
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error
}

func (p *GormPersist) GetUser(ctx context.Context, id string) (*types.User, error) {
	user := &types.User{}
	err := p.db.WithContext(ctx).Where("id = ?", id).First(user).Error
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

func (p *GormPersist) SetUserStatus(ctx context.Context, userId string, status string) error {
	res := p.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", userId).
		Updates(map[string]interface{}{"status": status, "last_seen": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userId, types.ErrNotFound)
	}
	return nil
}

func (p *GormPersist) ResetUserStatuses(ctx context.Context) error {
	return p.db.WithContext(ctx).Model(&types.User{}).Where("status <> ?", types.StatusOffline).
		Update("status", types.StatusOffline).Error
}

func (p *GormPersist) OnlineUserIds(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := p.db.WithContext(ctx).Model(&types.User{}).Where("status = ?", types.StatusOnline).
		Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
