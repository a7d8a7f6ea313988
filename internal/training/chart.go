package training

import (
	"bytes"
	"sync"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
)

// LossChart keeps the samples of the current run and renders them as an SVG
// line chart. A cancelled run is discarded.
type LossChart struct {
	mu      sync.Mutex
	total   int
	samples []Sample
}

func NewLossChart() *LossChart {
	return &LossChart{}
}

func (c *LossChart) Begin(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = total
	c.samples = c.samples[:0]
}

func (c *LossChart) Record(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *LossChart) Finish(r Run) {
	if r.State != StateIdle {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
	c.samples = nil
}

// Samples returns the recorded points of the current run.
func (c *LossChart) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sample(nil), c.samples...)
}

// SVG renders the training and validation curves.
func (c *LossChart) SVG(width, height int) ([]byte, error) {
	c.mu.Lock()
	samples := append([]Sample(nil), c.samples...)
	total := c.total
	c.mu.Unlock()

	if len(samples) == 0 {
		return nil, errors.Wrap(errs.ErrNotFound, "no training samples recorded")
	}

	train := mg.NewSeries(mg.Titled("Training Loss"))
	val := mg.NewSeries(mg.Titled("Validation Loss"))
	all := mg.NewSeries()
	for _, s := range samples {
		train.Add(mg.MakeValue(float64(s.Epoch), s.TrainingLoss))
		val.Add(mg.MakeValue(float64(s.Epoch), s.ValidationLoss))
		all.Add(mg.MakeValue(float64(s.Epoch), s.TrainingLoss))
		all.Add(mg.MakeValue(float64(s.Epoch), s.ValidationLoss))
	}

	diagram := mg.New(width, height,
		mg.WithRange(mg.XAxis, 0, float64(max(total, samples[len(samples)-1].Epoch))),
		mg.WithRange(mg.YAxis, 0, startValidationLoss),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	diagram.Line(train, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	diagram.Line(val, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("circle"), mg.UsingStrokeWidth(2))
	diagram.Axis(all, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epoch")
	diagram.Axis(all, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, "Loss")
	diagram.Frame()
	diagram.Title("Simulated training loss")
	diagram.Legend(mg.BottomLeft)

	var buf bytes.Buffer
	if err := diagram.Render(&buf); err != nil {
		return nil, errors.Wrap(err, "render loss chart")
	}
	return buf.Bytes(), nil
}
