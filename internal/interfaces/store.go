package interfaces

import (
	"context"

	"UnShiney/server/internal/models"
)

// ConfigStore is the append-only slot of saved model configurations.
type ConfigStore interface {
	AppendModelConfig(ctx context.Context, cfg models.ModelConfiguration) error
	// ListModelConfigs returns configurations in save order.
	ListModelConfigs(ctx context.Context) ([]models.ModelConfiguration, error)
}

// SnapshotStore keeps the latest dataset snapshot across restarts.
type SnapshotStore interface {
	SaveDataset(ctx context.Context, snapshot []byte) error
	// LoadDataset returns errs.ErrNotFound when nothing was saved.
	LoadDataset(ctx context.Context) ([]byte, error)
}
