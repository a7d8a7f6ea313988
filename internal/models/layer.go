package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
)

// LayerKind tags the variant of a Layer.
type LayerKind string

const (
	KindFlatten LayerKind = "flatten"
	KindDense   LayerKind = "dense"
	KindConv2D  LayerKind = "conv2d"
	KindMaxPool LayerKind = "maxpool"
	KindDropout LayerKind = "dropout"
)

// Activation names an activation function.
type Activation string

const (
	ActivationReLU    Activation = "relu"
	ActivationSigmoid Activation = "sigmoid"
	ActivationTanh    Activation = "tanh"
	ActivationSELU    Activation = "selu"
)

// OutputLayerName is the reserved display name of the final layer.
const OutputLayerName = "Output"

// Editable field names, as sent by the layer configuration form.
const (
	FieldName       = "name"
	FieldUnits      = "units"
	FieldActivation = "activation"
	FieldFilters    = "filters"
	FieldKernelSize = "kernel_size"
	FieldPoolSize   = "pool_size"
	FieldRate       = "rate"
)

const (
	maxDenseUnits   = 4096
	maxConvFilters  = 256
	maxKernelSize   = 7
	maxPoolSize     = 4
	minDropoutRate  = 0.1
	maxDropoutRate  = 0.9
	defaultDropRate = 0.5
)

// Layer is one stage of a model architecture description. The set of
// implementations is closed: Flatten, Dense, Conv2D, MaxPool and Dropout.
type Layer interface {
	Kind() LayerKind
	Name() string
	// Params renders the kind-specific parameters for the architecture summary.
	Params() string
	Validate() error

	isLayer()
}

type Flatten struct {
	Label string
}

type Dense struct {
	Label      string
	Units      int
	Activation Activation
}

type Conv2D struct {
	Label      string
	Filters    int
	KernelSize int
	Activation Activation
}

type MaxPool struct {
	Label    string
	PoolSize int
}

type Dropout struct {
	Label string
	Rate  float64
}

func (Flatten) Kind() LayerKind { return KindFlatten }
func (Dense) Kind() LayerKind   { return KindDense }
func (Conv2D) Kind() LayerKind  { return KindConv2D }
func (MaxPool) Kind() LayerKind { return KindMaxPool }
func (Dropout) Kind() LayerKind { return KindDropout }

func (l Flatten) Name() string { return l.Label }
func (l Dense) Name() string   { return l.Label }
func (l Conv2D) Name() string  { return l.Label }
func (l MaxPool) Name() string { return l.Label }
func (l Dropout) Name() string { return l.Label }

func (Flatten) isLayer() {}
func (Dense) isLayer()   {}
func (Conv2D) isLayer()  {}
func (MaxPool) isLayer() {}
func (Dropout) isLayer() {}

func (Flatten) Params() string { return "" }

func (l Dense) Params() string {
	return fmt.Sprintf("%d, %s", l.Units, l.Activation)
}

func (l Conv2D) Params() string {
	return fmt.Sprintf("%d×%d×%d, %s", l.Filters, l.KernelSize, l.KernelSize, l.Activation)
}

func (l MaxPool) Params() string { return strconv.Itoa(l.PoolSize) }

func (l Dropout) Params() string { return strconv.FormatFloat(l.Rate, 'g', -1, 64) }

func (l Flatten) Validate() error { return validateName(l.Label) }

func (l Dense) Validate() error {
	if err := validateName(l.Label); err != nil {
		return err
	}
	if l.Units < 1 || l.Units > maxDenseUnits {
		return errors.Wrapf(errs.ErrValidation, "dense units %d outside 1..%d", l.Units, maxDenseUnits)
	}
	return validateActivation(l.Activation, ActivationReLU, ActivationSigmoid, ActivationTanh, ActivationSELU)
}

func (l Conv2D) Validate() error {
	if err := validateName(l.Label); err != nil {
		return err
	}
	if l.Filters < 1 || l.Filters > maxConvFilters {
		return errors.Wrapf(errs.ErrValidation, "conv2d filters %d outside 1..%d", l.Filters, maxConvFilters)
	}
	if l.KernelSize < 1 || l.KernelSize > maxKernelSize {
		return errors.Wrapf(errs.ErrValidation, "conv2d kernel_size %d outside 1..%d", l.KernelSize, maxKernelSize)
	}
	return validateActivation(l.Activation, ActivationReLU, ActivationSigmoid, ActivationTanh)
}

func (l MaxPool) Validate() error {
	if err := validateName(l.Label); err != nil {
		return err
	}
	if l.PoolSize < 1 || l.PoolSize > maxPoolSize {
		return errors.Wrapf(errs.ErrValidation, "maxpool pool_size %d outside 1..%d", l.PoolSize, maxPoolSize)
	}
	return nil
}

func (l Dropout) Validate() error {
	if err := validateName(l.Label); err != nil {
		return err
	}
	if !(l.Rate >= minDropoutRate && l.Rate <= maxDropoutRate) {
		return errors.Wrapf(errs.ErrValidation, "dropout rate %g outside [%g, %g]", l.Rate, minDropoutRate, maxDropoutRate)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.Wrap(errs.ErrValidation, "layer name is empty")
	}
	return nil
}

func validateActivation(a Activation, allowed ...Activation) error {
	for _, candidate := range allowed {
		if a == candidate {
			return nil
		}
	}
	return errors.Wrapf(errs.ErrValidation, "activation %q not allowed here", a)
}

// LayerSummary renders a layer as "Name(params)".
func LayerSummary(l Layer) string {
	return l.Name() + "(" + l.Params() + ")"
}

// LayerFields lists the editable fields of a layer kind. The name is common to all kinds.
func LayerFields(kind LayerKind) []string {
	switch kind {
	case KindDense:
		return []string{FieldName, FieldUnits, FieldActivation}
	case KindConv2D:
		return []string{FieldName, FieldFilters, FieldKernelSize, FieldActivation}
	case KindMaxPool:
		return []string{FieldName, FieldPoolSize}
	case KindDropout:
		return []string{FieldName, FieldRate}
	default:
		return []string{FieldName}
	}
}

// SetLayerField returns a copy of l with field set from its textual value.
// applied is false when the field is not part of the kind's schema; l is then
// returned unchanged. The result is validated before it is returned.
func SetLayerField(l Layer, field, value string) (updated Layer, applied bool, err error) {
	if !slices.Contains(LayerFields(l.Kind()), field) {
		return l, false, nil
	}
	if field == FieldName {
		updated = withName(l, value)
		return updated, true, updated.Validate()
	}

	switch v := l.(type) {
	case Dense:
		switch field {
		case FieldUnits:
			if v.Units, err = parseInt(field, value); err != nil {
				return l, true, err
			}
		case FieldActivation:
			v.Activation = Activation(value)
		default:
			return l, false, nil
		}
		return v, true, v.Validate()
	case Conv2D:
		switch field {
		case FieldFilters:
			if v.Filters, err = parseInt(field, value); err != nil {
				return l, true, err
			}
		case FieldKernelSize:
			if v.KernelSize, err = parseInt(field, value); err != nil {
				return l, true, err
			}
		case FieldActivation:
			v.Activation = Activation(value)
		default:
			return l, false, nil
		}
		return v, true, v.Validate()
	case MaxPool:
		if field != FieldPoolSize {
			return l, false, nil
		}
		if v.PoolSize, err = parseInt(field, value); err != nil {
			return l, true, err
		}
		return v, true, v.Validate()
	case Dropout:
		if field != FieldRate {
			return l, false, nil
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return l, true, errors.Wrapf(errs.ErrValidation, "%s: %q is not a number", field, value)
		}
		v.Rate = rate
		return v, true, v.Validate()
	default:
		return l, false, nil
	}
}

func withName(l Layer, name string) Layer {
	switch v := l.(type) {
	case Flatten:
		v.Label = name
		return v
	case Dense:
		v.Label = name
		return v
	case Conv2D:
		v.Label = name
		return v
	case MaxPool:
		v.Label = name
		return v
	case Dropout:
		v.Label = name
		return v
	}
	return l
}

func parseInt(field, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Wrapf(errs.ErrValidation, "%s: %q is not an integer", field, value)
	}
	return n, nil
}

// layerJSON is the flat wire form shared by all kinds.
type layerJSON struct {
	Type       LayerKind   `json:"type"`
	Name       string      `json:"name"`
	Units      *int        `json:"units,omitempty"`
	Activation *Activation `json:"activation,omitempty"`
	Filters    *int        `json:"filters,omitempty"`
	KernelSize *int        `json:"kernel_size,omitempty"`
	PoolSize   *int        `json:"pool_size,omitempty"`
	Rate       *float64    `json:"rate,omitempty"`
}

func (l Flatten) MarshalJSON() ([]byte, error) {
	return json.Marshal(layerJSON{Type: KindFlatten, Name: l.Label})
}

func (l Dense) MarshalJSON() ([]byte, error) {
	return json.Marshal(layerJSON{Type: KindDense, Name: l.Label, Units: &l.Units, Activation: &l.Activation})
}

func (l Conv2D) MarshalJSON() ([]byte, error) {
	return json.Marshal(layerJSON{Type: KindConv2D, Name: l.Label, Filters: &l.Filters, KernelSize: &l.KernelSize, Activation: &l.Activation})
}

func (l MaxPool) MarshalJSON() ([]byte, error) {
	return json.Marshal(layerJSON{Type: KindMaxPool, Name: l.Label, PoolSize: &l.PoolSize})
}

func (l Dropout) MarshalJSON() ([]byte, error) {
	return json.Marshal(layerJSON{Type: KindDropout, Name: l.Label, Rate: &l.Rate})
}

// UnmarshalLayer decodes the flat wire form into the matching variant.
// A dropout without a rate gets 0.5; any other missing parameter is a format error.
func UnmarshalLayer(data []byte) (Layer, error) {
	var raw layerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(errs.ErrFormat, "layer: %v", err)
	}

	var l Layer
	switch raw.Type {
	case KindFlatten:
		l = Flatten{Label: raw.Name}
	case KindDense:
		if raw.Units == nil || raw.Activation == nil {
			return nil, errors.Wrap(errs.ErrFormat, "dense layer needs units and activation")
		}
		l = Dense{Label: raw.Name, Units: *raw.Units, Activation: *raw.Activation}
	case KindConv2D:
		if raw.Filters == nil || raw.KernelSize == nil || raw.Activation == nil {
			return nil, errors.Wrap(errs.ErrFormat, "conv2d layer needs filters, kernel_size and activation")
		}
		l = Conv2D{Label: raw.Name, Filters: *raw.Filters, KernelSize: *raw.KernelSize, Activation: *raw.Activation}
	case KindMaxPool:
		if raw.PoolSize == nil {
			return nil, errors.Wrap(errs.ErrFormat, "maxpool layer needs pool_size")
		}
		l = MaxPool{Label: raw.Name, PoolSize: *raw.PoolSize}
	case KindDropout:
		rate := defaultDropRate
		if raw.Rate != nil {
			rate = *raw.Rate
		}
		l = Dropout{Label: raw.Name, Rate: rate}
	default:
		return nil, errors.Wrapf(errs.ErrFormat, "unknown layer type %q", raw.Type)
	}

	if err := l.Validate(); err != nil {
		return nil, errors.Wrapf(errs.ErrFormat, "layer %q: %v", raw.Name, err)
	}
	return l, nil
}

// LayerList is an ordered architecture. Order is execution order.
type LayerList []Layer

func (ll *LayerList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return errors.Wrapf(errs.ErrFormat, "layers: %v", err)
	}
	out := make(LayerList, 0, len(raws))
	for i, raw := range raws {
		l, err := UnmarshalLayer(raw)
		if err != nil {
			return errors.Wrapf(err, "layers[%d]", i)
		}
		out = append(out, l)
	}
	*ll = out
	return nil
}

// OutputCount returns how many layers carry the reserved Output name.
func (ll LayerList) OutputCount() int {
	n := 0
	for _, l := range ll {
		if l.Name() == OutputLayerName {
			n++
		}
	}
	return n
}
