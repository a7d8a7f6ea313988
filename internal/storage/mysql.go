package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/config"
	"UnShiney/server/internal/models"
)

// MySQLStore archives saved model configurations in the model_configs table.
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return NewMySQLStoreWithDB(db)
}

// NewMySQLStoreWithDB wraps an open connection and migrates the schema.
func NewMySQLStoreWithDB(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&models.ModelConfigRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate model_configs")
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction helper
func (s *MySQLStore) WithTx(fn func(*gorm.DB) error) error {
	return s.db.Transaction(fn)
}

func (s *MySQLStore) AppendModelConfig(ctx context.Context, cfg models.ModelConfiguration) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal model config")
	}
	rec := models.ModelConfigRecord{
		Name:        cfg.Name,
		Description: cfg.Description,
		Type:        cfg.Type,
		Payload:     string(payload),
	}
	return s.WithTx(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(&rec).Error; err != nil {
			return errors.Wrap(err, "insert model config")
		}
		return nil
	})
}

func (s *MySQLStore) ListModelConfigs(ctx context.Context) ([]models.ModelConfiguration, error) {
	var records []models.ModelConfigRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "list model configs")
	}

	configs := make([]models.ModelConfiguration, 0, len(records))
	for _, rec := range records {
		cfg, err := models.ParseModelConfiguration([]byte(rec.Payload))
		if err != nil {
			klog.Warningf("[MySQLStore] skipping model config %d: %v", rec.ID, err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
