package storage

import (
	"io"

	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/config"
	"UnShiney/server/internal/interfaces"
)

// Stores bundles the persistence chosen by configuration.
type Stores struct {
	Configs interfaces.ConfigStore
	// Snapshots is nil when dataset autosave is off or unsupported.
	Snapshots interfaces.SnapshotStore

	closers []io.Closer
}

// Open connects the configured backend. A backend that cannot be reached is
// logged and replaced by a MemoryStore so the workspace still starts.
func Open(cfg config.StorageConfig) *Stores {
	s := &Stores{}
	mem := NewMemoryStore()

	switch cfg.Backend {
	case config.StorageRedis:
		redisStore, err := NewRedisStore(cfg.Redis)
		if err != nil {
			klog.Warningf("[Storage] Redis unavailable, falling back to memory: %v", err)
			break
		}
		klog.Infof("[Storage] Redis connected at %s:%d", cfg.Redis.Host, cfg.Redis.Port)
		s.closers = append(s.closers, redisStore)
		s.Configs = redisStore
		if cfg.Autosave {
			s.Snapshots = redisStore
		}
	case config.StorageMySQL:
		mysqlStore, err := NewMySQLStore(cfg.MySQL)
		if err != nil {
			klog.Warningf("[Storage] MySQL unavailable, falling back to memory: %v", err)
			break
		}
		klog.Infof("[Storage] MySQL connected at %s:%d", cfg.MySQL.Host, cfg.MySQL.Port)
		s.closers = append(s.closers, mysqlStore)
		s.Configs = mysqlStore
		if cfg.Autosave {
			klog.Warningf("[Storage] dataset autosave needs redis or memory storage, disabled")
		}
	}

	if s.Configs == nil {
		s.Configs = mem
		if cfg.Autosave {
			s.Snapshots = mem
		}
	}
	return s
}

// Close releases every connection that was opened.
func (s *Stores) Close() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}
