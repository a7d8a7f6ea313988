package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/errs"
)

func TestUnmarshalLayerVariants(t *testing.T) {
	tests := []struct {
		in      string
		summary string
	}{
		{`{"type":"flatten","name":"Flatten"}`, "Flatten()"},
		{`{"type":"dense","name":"Dense","units":128,"activation":"relu"}`, "Dense(128, relu)"},
		{`{"type":"conv2d","name":"Conv2D","filters":16,"kernel_size":3,"activation":"relu"}`, "Conv2D(16×3×3, relu)"},
		{`{"type":"maxpool","name":"MaxPool","pool_size":2}`, "MaxPool(2)"},
		{`{"type":"dropout","name":"Dropout","rate":0.25}`, "Dropout(0.25)"},
	}
	for _, tt := range tests {
		l, err := UnmarshalLayer([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.summary, LayerSummary(l))

		data, err := json.Marshal(l)
		require.NoError(t, err)
		assert.JSONEq(t, tt.in, string(data))
	}
}

func TestUnmarshalLayerDropoutDefaultRate(t *testing.T) {
	l, err := UnmarshalLayer([]byte(`{"type":"dropout","name":"Dropout"}`))
	require.NoError(t, err)
	assert.Equal(t, Dropout{Label: "Dropout", Rate: 0.5}, l)
}

func TestUnmarshalLayerErrors(t *testing.T) {
	for _, in := range []string{
		`{"type":"dense","name":"Dense","activation":"relu"}`,
		`{"type":"conv2d","name":"Conv2D","filters":16,"activation":"relu"}`,
		`{"type":"maxpool","name":"MaxPool"}`,
		`{"type":"lstm","name":"LSTM"}`,
		`{"type":"dense","name":"Dense","units":5000,"activation":"relu"}`,
		`{"type":"conv2d","name":"Conv2D","filters":16,"kernel_size":3,"activation":"selu"}`,
		`{"type":"dropout","name":"Dropout","rate":0.95}`,
		`{"type":"flatten","name":"  "}`,
		`[1,2]`,
	} {
		_, err := UnmarshalLayer([]byte(in))
		assert.True(t, errs.Is(err, errs.ErrFormat), in)
	}
}

func TestSetLayerField(t *testing.T) {
	dense := Dense{Label: "Dense", Units: 64, Activation: ActivationReLU}

	l, applied, err := SetLayerField(dense, FieldUnits, " 256 ")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "Dense(256, relu)", LayerSummary(l))
	assert.Equal(t, 64, dense.Units)

	l, applied, err = SetLayerField(dense, FieldPoolSize, "2")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, dense, l)

	_, applied, err = SetLayerField(dense, FieldUnits, "many")
	assert.True(t, applied)
	assert.True(t, errs.Is(err, errs.ErrValidation))

	l, applied, err = SetLayerField(Flatten{Label: "Flatten"}, FieldName, "Squash")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "Squash", l.Name())
}

func TestDropoutRateRejectsNonFinite(t *testing.T) {
	drop := Dropout{Label: "Dropout", Rate: 0.5}
	for _, v := range []string{"NaN", "nan", "+Inf", "-Inf", "0.05"} {
		_, _, err := SetLayerField(drop, FieldRate, v)
		assert.True(t, errs.Is(err, errs.ErrValidation), v)
	}
	assert.Error(t, Dropout{Label: "Dropout", Rate: 0.9000001}.Validate())
	assert.NoError(t, Dropout{Label: "Dropout", Rate: 0.9}.Validate())
}

func TestLayerFieldsMatchSchema(t *testing.T) {
	assert.Equal(t, []string{FieldName}, LayerFields(KindFlatten))
	for _, field := range LayerFields(KindConv2D) {
		_, applied, _ := SetLayerField(Conv2D{Label: "C", Filters: 8, KernelSize: 3, Activation: ActivationReLU}, field, "4")
		assert.True(t, applied, field)
	}
}

func TestLayerListOutputCount(t *testing.T) {
	var ll LayerList
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type":"flatten","name":"Flatten"},
		{"type":"dense","name":"Output","units":4096,"activation":"sigmoid"}
	]`), &ll))
	assert.Len(t, ll, 2)
	assert.Equal(t, 1, ll.OutputCount())

	err := json.Unmarshal([]byte(`[{"type":"flatten","name":"Flatten"},{"type":"pool"}]`), &ll)
	assert.True(t, errs.Is(err, errs.ErrFormat))
}
