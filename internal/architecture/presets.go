// Package architecture edits the layer sequence and hyperparameters of the
// model being described, and turns them into saved configurations.
package architecture

import (
	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

// Preset names a fixed starting architecture.
type Preset string

const (
	PresetDense  Preset = "dense"
	PresetConv   Preset = "conv"
	PresetHybrid Preset = "hybrid"
	PresetCustom Preset = "custom"
)

// Presets lists the presets in menu order.
var Presets = []Preset{PresetDense, PresetConv, PresetHybrid, PresetCustom}

func outputLayer() models.Layer {
	return models.Dense{Label: models.OutputLayerName, Units: 4096, Activation: models.ActivationSigmoid}
}

func dense(units int) models.Layer {
	return models.Dense{Label: "Dense", Units: units, Activation: models.ActivationReLU}
}

func conv(filters int) models.Layer {
	return models.Conv2D{Label: "Conv2D", Filters: filters, KernelSize: 3, Activation: models.ActivationReLU}
}

var (
	flatten = models.Flatten{Label: "Flatten"}
	pool    = models.MaxPool{Label: "MaxPool", PoolSize: 2}
)

// PresetLayers returns a fresh copy of the preset's layer sequence.
func PresetLayers(p Preset) ([]models.Layer, error) {
	switch p {
	case PresetDense:
		return []models.Layer{flatten, dense(128), dense(256), dense(128), outputLayer()}, nil
	case PresetConv:
		return []models.Layer{conv(16), pool, conv(32), pool, flatten, dense(128), outputLayer()}, nil
	case PresetHybrid:
		return []models.Layer{conv(16), conv(32), flatten, dense(256), dense(128), outputLayer()}, nil
	case PresetCustom:
		return []models.Layer{flatten, dense(64), outputLayer()}, nil
	}
	return nil, errors.Wrapf(errs.ErrInvalidArgument, "unknown preset %q", p)
}

// NewLayer returns a layer of kind with the add-layer defaults.
func NewLayer(kind models.LayerKind) (models.Layer, error) {
	switch kind {
	case models.KindDense:
		return dense(64), nil
	case models.KindConv2D:
		return conv(16), nil
	case models.KindMaxPool:
		return pool, nil
	case models.KindDropout:
		return models.Dropout{Label: "Dropout", Rate: 0.5}, nil
	case models.KindFlatten:
		return flatten, nil
	}
	return nil, errors.Wrapf(errs.ErrInvalidArgument, "unknown layer type %q", kind)
}
