package models

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
)

// Optimizer names the optimizer a configuration trains with.
type Optimizer string

const (
	OptimizerAdam    Optimizer = "adam"
	OptimizerSGD     Optimizer = "sgd"
	OptimizerRMSProp Optimizer = "rmsprop"
	OptimizerAdagrad Optimizer = "adagrad"
)

// Loss names the loss function a configuration trains with.
type Loss string

const (
	LossMAE                Loss = "mae"
	LossMSE                Loss = "mse"
	LossBinaryCrossentropy Loss = "binary_crossentropy"
	LossHuber              Loss = "huber"
)

// DefaultModelName is used when a configuration is saved without a title.
const DefaultModelName = "UnShiney Model"

// Hyperparameters are the training knobs stored alongside a layer sequence.
type Hyperparameters struct {
	LearningRate    float64   `json:"learning_rate"`
	BatchSize       int       `json:"batch_size"`
	Epochs          int       `json:"epochs"`
	ValidationSplit float64   `json:"validation_split"`
	Optimizer       Optimizer `json:"optimizer"`
	Loss            Loss      `json:"loss"`
}

// DefaultHyperparameters matches the values the builder form starts with.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LearningRate:    0.00025,
		BatchSize:       32,
		Epochs:          10,
		ValidationSplit: 0.2,
		Optimizer:       OptimizerAdam,
		Loss:            LossMAE,
	}
}

func (h Hyperparameters) Validate() error {
	if !(h.LearningRate > 0) || math.IsInf(h.LearningRate, 1) {
		return errors.Wrapf(errs.ErrValidation, "learning_rate must be positive, got %g", h.LearningRate)
	}
	if h.BatchSize < 1 {
		return errors.Wrapf(errs.ErrValidation, "batch_size must be positive, got %d", h.BatchSize)
	}
	if h.Epochs < 1 {
		return errors.Wrapf(errs.ErrValidation, "epochs must be positive, got %d", h.Epochs)
	}
	if !(h.ValidationSplit >= 0 && h.ValidationSplit <= 1) {
		return errors.Wrapf(errs.ErrValidation, "validation_split must be in [0, 1], got %g", h.ValidationSplit)
	}
	switch h.Optimizer {
	case OptimizerAdam, OptimizerSGD, OptimizerRMSProp, OptimizerAdagrad:
	default:
		return errors.Wrapf(errs.ErrValidation, "unknown optimizer %q", h.Optimizer)
	}
	switch h.Loss {
	case LossMAE, LossMSE, LossBinaryCrossentropy, LossHuber:
	default:
		return errors.Wrapf(errs.ErrValidation, "unknown loss %q", h.Loss)
	}
	return nil
}

// ModelConfiguration is a saved architecture plus its hyperparameters.
type ModelConfiguration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Layers      LayerList       `json:"layers"`
	Params      Hyperparameters `json:"params"`
}

// hyperparametersJSON tells missing values apart from zero values on load.
type hyperparametersJSON struct {
	LearningRate    *float64   `json:"learning_rate"`
	BatchSize       *int       `json:"batch_size"`
	Epochs          *int       `json:"epochs"`
	ValidationSplit *float64   `json:"validation_split"`
	Optimizer       *Optimizer `json:"optimizer"`
	Loss            *Loss      `json:"loss"`
}

// ParseModelConfiguration decodes a configuration document. Layers and params
// are required; missing or zero hyperparameters fall back to the defaults.
func ParseModelConfiguration(data []byte) (ModelConfiguration, error) {
	var raw struct {
		Name        string               `json:"name"`
		Description string               `json:"description"`
		Type        string               `json:"type"`
		Layers      *LayerList           `json:"layers"`
		Params      *hyperparametersJSON `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		if errs.Is(err, errs.ErrFormat) {
			return ModelConfiguration{}, err
		}
		return ModelConfiguration{}, errors.Wrapf(errs.ErrFormat, "configuration: %v", err)
	}
	if raw.Layers == nil || raw.Params == nil {
		return ModelConfiguration{}, errors.Wrap(errs.ErrFormat, "configuration needs layers and params")
	}
	if raw.Layers.OutputCount() > 1 {
		return ModelConfiguration{}, errors.Wrap(errs.ErrFormat, "configuration has more than one Output layer")
	}

	params := DefaultHyperparameters()
	p := raw.Params
	if p.LearningRate != nil && *p.LearningRate != 0 {
		params.LearningRate = *p.LearningRate
	}
	if p.BatchSize != nil && *p.BatchSize != 0 {
		params.BatchSize = *p.BatchSize
	}
	if p.Epochs != nil && *p.Epochs != 0 {
		params.Epochs = *p.Epochs
	}
	if p.ValidationSplit != nil && *p.ValidationSplit != 0 {
		params.ValidationSplit = *p.ValidationSplit
	}
	if p.Optimizer != nil && *p.Optimizer != "" {
		params.Optimizer = *p.Optimizer
	}
	if p.Loss != nil && *p.Loss != "" {
		params.Loss = *p.Loss
	}
	if err := params.Validate(); err != nil {
		return ModelConfiguration{}, errors.Wrapf(errs.ErrFormat, "params: %v", err)
	}

	cfg := ModelConfiguration{
		Name:        raw.Name,
		Description: raw.Description,
		Type:        raw.Type,
		Layers:      *raw.Layers,
		Params:      params,
	}
	if cfg.Type == "" {
		cfg.Type = "custom"
	}
	return cfg, nil
}

// ModelConfigRecord is the relational row for a saved configuration.
type ModelConfigRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:255;index" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Type        string    `gorm:"size:32" json:"type"`
	Payload     string    `gorm:"type:longtext" json:"-"` // Serialized ModelConfiguration
	CreatedAt   time.Time `json:"created_at"`
}

func (ModelConfigRecord) TableName() string {
	return "model_configs"
}
