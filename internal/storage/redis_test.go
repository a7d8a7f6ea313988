package storage

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/config"
	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	store, err := NewRedisStore(config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func sampleConfig(name string) models.ModelConfiguration {
	return models.ModelConfiguration{
		Name: name,
		Type: "custom",
		Layers: models.LayerList{
			models.Flatten{Label: "Flatten"},
			models.Dense{Label: "Output", Units: 4096, Activation: models.ActivationSigmoid},
		},
		Params: models.DefaultHyperparameters(),
	}
}

func TestRedisModelConfigsAppendOnly(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	empty, err := store.ListModelConfigs(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.AppendModelConfig(ctx, sampleConfig("first")))
	require.NoError(t, store.AppendModelConfig(ctx, sampleConfig("second")))

	// A corrupt entry in the slot is skipped rather than failing the list.
	_, err = mr.Push(modelConfigsKey, `{"name":"broken"}`)
	require.NoError(t, err)

	configs, err := store.ListModelConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "first", configs[0].Name)
	assert.Equal(t, "second", configs[1].Name)
	assert.Equal(t, sampleConfig("first").Layers, configs[0].Layers)
}

func TestRedisDatasetSnapshot(t *testing.T) {
	store, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := store.LoadDataset(ctx)
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	require.NoError(t, store.SaveDataset(ctx, []byte(`[{"id":"a","original":"o","clean":"c","isSample":false}]`)))
	data, err := store.LoadDataset(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","original":"o","clean":"c","isSample":false}]`, string(data))
}

func TestOpenFallsBackToMemory(t *testing.T) {
	stores := Open(config.StorageConfig{
		Backend:  config.StorageRedis,
		Redis:    config.RedisConfig{Host: "127.0.0.1", Port: 1},
		Autosave: true,
	})
	defer stores.Close()

	_, ok := stores.Configs.(*MemoryStore)
	assert.True(t, ok)
	assert.NotNil(t, stores.Snapshots)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	stores := Open(config.StorageConfig{
		Backend: config.StorageRedis,
		Redis:   config.RedisConfig{Host: mr.Host(), Port: port},
	})
	defer stores.Close()

	_, ok := stores.Configs.(*RedisStore)
	assert.True(t, ok)
	assert.Nil(t, stores.Snapshots)
}
