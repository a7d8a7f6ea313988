package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/config"
	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

// Key names match the slots the browser tool kept in localStorage.
const (
	modelConfigsKey = "unshineModelConfigs"
	datasetKey      = "unshineDataset"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Helper methods for common operations
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

// AppendModelConfig pushes cfg onto the end of the configuration slot.
func (s *RedisStore) AppendModelConfig(ctx context.Context, cfg models.ModelConfiguration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal model config")
	}
	if err := s.client.RPush(ctx, modelConfigsKey, data).Err(); err != nil {
		return errors.Wrap(err, "store model config")
	}
	return nil
}

// ListModelConfigs returns every saved configuration, oldest first.
// Entries that no longer parse are skipped.
func (s *RedisStore) ListModelConfigs(ctx context.Context) ([]models.ModelConfiguration, error) {
	results, err := s.client.LRange(ctx, modelConfigsKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list model configs")
	}

	configs := make([]models.ModelConfiguration, 0, len(results))
	for i, raw := range results {
		cfg, err := models.ParseModelConfiguration([]byte(raw))
		if err != nil {
			klog.Warningf("[RedisStore] skipping model config %d: %v", i, err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// SaveDataset overwrites the dataset snapshot.
func (s *RedisStore) SaveDataset(ctx context.Context, snapshot []byte) error {
	if err := s.Set(ctx, datasetKey, snapshot, 0); err != nil {
		return errors.Wrap(err, "save dataset snapshot")
	}
	return nil
}

func (s *RedisStore) LoadDataset(ctx context.Context) ([]byte, error) {
	data, err := s.Get(ctx, datasetKey)
	if err == redis.Nil {
		return nil, errors.Wrap(errs.ErrNotFound, "no dataset snapshot")
	}
	if err != nil {
		return nil, errors.Wrap(err, "load dataset snapshot")
	}
	return []byte(data), nil
}
