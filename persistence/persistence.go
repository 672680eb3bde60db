package persistence

import (
	"fmt"

	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
)

// NewPersister creates the persister selected by cfg.PersistenceConfig.Type, wrapped in a read-through cache
// for users and rooms if cache_size is positive.
func NewPersister(cfg *config.Config) (Persister, error) {
	var (
		p   Persister
		err error
	)
	switch cfg.PersistenceConfig.Type {
	case "sqlite", "postgres":
		p, err = NewGormPersister(cfg)
	case "buntdb", "":
		p, err = NewBuntPersister(cfg)
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
	}
	if err != nil {
		return nil, err
	}
	globals.AppLogger.Info("persistence ready", "type", cfg.PersistenceConfig.Type)
	if cfg.PersistenceConfig.CacheSize > 0 {
		return NewCachedPersister(p, cfg.PersistenceConfig.CacheSize)
	}
	return p, nil
}
