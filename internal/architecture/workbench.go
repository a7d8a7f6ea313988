package architecture

import (
	"regexp"
	"strings"

	"UnShiney/server/internal/models"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Workbench is the model builder: the layer editor, the hyperparameter form
// and the preset the user last picked.
type Workbench struct {
	Editor *Editor

	modelType Preset
	params    models.Hyperparameters
}

// NewWorkbench starts with the dense preset and default hyperparameters.
func NewWorkbench(onChange func(summary []string)) *Workbench {
	w := &Workbench{
		Editor: NewEditor(onChange),
		params: models.DefaultHyperparameters(),
	}
	_ = w.SelectPreset(PresetDense)
	return w
}

// SelectPreset loads a preset and makes it the current model type.
func (w *Workbench) SelectPreset(p Preset) error {
	if err := w.Editor.LoadPreset(p); err != nil {
		return err
	}
	w.modelType = p
	return nil
}

// ModelType is the type sent upstream with /process and /train.
func (w *Workbench) ModelType() Preset {
	return w.modelType
}

// Params returns the current hyperparameters.
func (w *Workbench) Params() models.Hyperparameters {
	return w.params
}

// SetParams replaces the hyperparameters after validating them.
func (w *Workbench) SetParams(p models.Hyperparameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	w.params = p
	return nil
}

// Save snapshots the builder. An empty name becomes models.DefaultModelName.
func (w *Workbench) Save(name, description string) models.ModelConfiguration {
	if strings.TrimSpace(name) == "" {
		name = models.DefaultModelName
	}
	return models.ModelConfiguration{
		Name:        name,
		Description: description,
		Type:        string(w.modelType),
		Layers:      w.Editor.Layers(),
		Params:      w.params,
	}
}

// Load replaces layers, hyperparameters and model type with cfg. On error the
// builder is left as it was.
func (w *Workbench) Load(cfg models.ModelConfiguration) error {
	if err := cfg.Params.Validate(); err != nil {
		return err
	}
	if err := w.Editor.Replace(cfg.Layers); err != nil {
		return err
	}
	w.params = cfg.Params
	w.modelType = ParsePreset(cfg.Type)
	return nil
}

// ParsePreset maps a stored model type onto a known preset. Anything else is
// treated as a custom architecture.
func ParsePreset(s string) Preset {
	for _, p := range Presets {
		if string(p) == s {
			return p
		}
	}
	return PresetCustom
}

// ExportFileName derives the download name of a saved configuration.
func ExportFileName(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultModelName
	}
	return whitespaceRun.ReplaceAllString(title, "_") + ".json"
}
