package architecture

import (
	"sort"

	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

// Editor owns the ordered layer sequence. It is not safe for concurrent use.
type Editor struct {
	layers   []models.Layer
	onChange func(summary []string)
}

// NewEditor creates an empty editor. onChange may be nil; it receives the
// summary after every mutation.
func NewEditor(onChange func(summary []string)) *Editor {
	return &Editor{onChange: onChange}
}

// LoadPreset replaces the sequence with the preset.
func (e *Editor) LoadPreset(p Preset) error {
	layers, err := PresetLayers(p)
	if err != nil {
		return err
	}
	e.layers = layers
	e.changed()
	return nil
}

// Insert adds l immediately before the Output layer, or appends it when there
// is none or atEnd is set. It returns the index l landed on.
func (e *Editor) Insert(l models.Layer, atEnd bool) (int, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	out := e.outputIndex()
	if l.Name() == models.OutputLayerName && out >= 0 {
		return 0, errors.Wrap(errs.ErrValidation, "architecture already has an Output layer")
	}

	at := len(e.layers)
	if out >= 0 && !atEnd {
		at = out
	}
	e.layers = append(e.layers, nil)
	copy(e.layers[at+1:], e.layers[at:])
	e.layers[at] = l
	e.changed()
	return at, nil
}

// RemoveAt deletes the layer at index.
func (e *Editor) RemoveAt(index int) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	e.layers = append(e.layers[:index], e.layers[index+1:]...)
	e.changed()
	return nil
}

// UpdateField sets one field of the layer at index. A field the layer's kind
// does not have is ignored without error.
func (e *Editor) UpdateField(index int, field, value string) error {
	return e.UpdateFields(index, map[string]string{field: value})
}

// UpdateFields applies several field edits to the layer at index as one
// change. Fields are applied in name order to a copy; if any edit fails the
// layer is left as it was and no change is announced.
func (e *Editor) UpdateFields(index int, fields map[string]string) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	current := e.layers[index]
	candidate := current
	changed := false
	for _, field := range names {
		updated, applied, err := models.SetLayerField(candidate, field, fields[field])
		if err != nil {
			return err
		}
		if applied {
			candidate = updated
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if candidate.Name() == models.OutputLayerName && current.Name() != models.OutputLayerName && e.outputIndex() >= 0 {
		return errors.Wrap(errs.ErrValidation, "architecture already has an Output layer")
	}
	e.layers[index] = candidate
	e.changed()
	return nil
}

// Replace swaps in a whole sequence, as when a configuration is loaded.
func (e *Editor) Replace(layers []models.Layer) error {
	if models.LayerList(layers).OutputCount() > 1 {
		return errors.Wrap(errs.ErrValidation, "architecture has more than one Output layer")
	}
	for i, l := range layers {
		if err := l.Validate(); err != nil {
			return errors.Wrapf(err, "layers[%d]", i)
		}
	}
	e.layers = append([]models.Layer(nil), layers...)
	e.changed()
	return nil
}

// Layers returns a copy of the sequence.
func (e *Editor) Layers() []models.Layer {
	return append([]models.Layer(nil), e.layers...)
}

// Len returns the number of layers.
func (e *Editor) Len() int {
	return len(e.layers)
}

// Summary renders each layer as "Name(params)".
func (e *Editor) Summary() []string {
	out := make([]string, len(e.layers))
	for i, l := range e.layers {
		out[i] = models.LayerSummary(l)
	}
	return out
}

func (e *Editor) outputIndex() int {
	for i, l := range e.layers {
		if l.Name() == models.OutputLayerName {
			return i
		}
	}
	return -1
}

func (e *Editor) checkIndex(index int) error {
	if index < 0 || index >= len(e.layers) {
		return errors.Wrapf(errs.ErrIndex, "layer %d of %d", index, len(e.layers))
	}
	return nil
}

func (e *Editor) changed() {
	if e.onChange != nil {
		e.onChange(e.Summary())
	}
}
