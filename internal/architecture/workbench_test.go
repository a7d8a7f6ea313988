package architecture

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

func TestWorkbenchSaveLoad(t *testing.T) {
	w := NewWorkbench(nil)
	assert.Equal(t, PresetDense, w.ModelType())
	require.NoError(t, w.SelectPreset(PresetHybrid))

	p := w.Params()
	p.Epochs = 25
	p.Optimizer = models.OptimizerSGD
	require.NoError(t, w.SetParams(p))

	cfg := w.Save("", "my notes")
	assert.Equal(t, models.DefaultModelName, cfg.Name)
	assert.Equal(t, "hybrid", cfg.Type)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	parsed, err := models.ParseModelConfiguration(data)
	require.NoError(t, err)

	other := NewWorkbench(nil)
	require.NoError(t, other.Load(parsed))
	assert.Equal(t, w.Editor.Summary(), other.Editor.Summary())
	assert.Equal(t, w.Params(), other.Params())
	assert.Equal(t, PresetHybrid, other.ModelType())
}

func TestWorkbenchSetParamsRejectsInvalid(t *testing.T) {
	w := NewWorkbench(nil)
	p := w.Params()
	p.ValidationSplit = 1.5
	assert.True(t, errs.Is(w.SetParams(p), errs.ErrValidation))
	assert.Equal(t, models.DefaultHyperparameters(), w.Params())
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "My_Cool_Model.json", ExportFileName("My Cool \t Model"))
	assert.Equal(t, "UnShiney_Model.json", ExportFileName("  "))
	assert.Equal(t, "x.json", ExportFileName("x"))
}

func TestWorkbenchLoadUnknownTypeIsCustom(t *testing.T) {
	w := NewWorkbench(nil)
	layers, err := PresetLayers(PresetConv)
	require.NoError(t, err)

	cfg := models.ModelConfiguration{Type: "../../admin", Layers: layers, Params: models.DefaultHyperparameters()}
	require.NoError(t, w.Load(cfg))
	assert.Equal(t, PresetCustom, w.ModelType())

	cfg.Type = "conv"
	require.NoError(t, w.Load(cfg))
	assert.Equal(t, PresetConv, w.ModelType())
}
