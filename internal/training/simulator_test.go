package training

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/errs"
)

type recordingSink struct {
	begun    []int
	samples  []Sample
	finished []Run
}

func (r *recordingSink) Begin(total int) { r.begun = append(r.begun, total) }
func (r *recordingSink) Record(s Sample) { r.samples = append(r.samples, s) }
func (r *recordingSink) Finish(run Run)  { r.finished = append(r.finished, run) }

func newTestSimulator(sink Sink) (*Simulator, *ManualScheduler) {
	sched := &ManualScheduler{}
	rng := rand.New(rand.NewSource(42))
	return NewSimulator(sched, sink, WithRand(rng.Float64)), sched
}

func TestStartTicksExactlyTotal(t *testing.T) {
	sink := &recordingSink{}
	sim, sched := newTestSimulator(sink)

	require.NoError(t, sim.Start(5))
	for i := 0; i < 20; i++ {
		sched.Advance()
	}

	run := sim.Snapshot()
	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, 5, run.CurrentEpoch)
	assert.Equal(t, 1.0, run.Progress())
	require.Len(t, sink.samples, 5)
	assert.Equal(t, 0, sched.Pending())

	prevTrain, prevVal := startTrainingLoss, startValidationLoss
	for i, s := range sink.samples {
		assert.Equal(t, i+1, s.Epoch)
		assert.LessOrEqual(t, s.TrainingLoss, prevTrain)
		assert.LessOrEqual(t, s.ValidationLoss, prevVal)
		assert.GreaterOrEqual(t, s.TrainingLoss, TrainingLossFloor)
		assert.GreaterOrEqual(t, s.ValidationLoss, ValidationLossFloor)
		prevTrain, prevVal = s.TrainingLoss, s.ValidationLoss
	}
	require.Len(t, sink.finished, 1)
	assert.Equal(t, StateCompleted, sink.finished[0].State)
}

func TestLossesClampAtFloors(t *testing.T) {
	sink := &recordingSink{}
	sim := NewSimulator(&ManualScheduler{}, sink, WithRand(func() float64 { return 0.999 }))
	sched := sim.sched.(*ManualScheduler)

	require.NoError(t, sim.Start(100))
	for sched.Advance() > 0 {
	}
	run := sim.Snapshot()
	assert.Equal(t, TrainingLossFloor, run.TrainingLoss)
	assert.Equal(t, ValidationLossFloor, run.ValidationLoss)
	assert.Len(t, sink.samples, 100)
}

func TestStartValidation(t *testing.T) {
	sim, sched := newTestSimulator(nil)

	assert.True(t, errs.Is(sim.Start(0), errs.ErrInvalidArgument))
	assert.Equal(t, StateIdle, sim.Snapshot().State)

	require.NoError(t, sim.Start(2))
	assert.True(t, errs.Is(sim.Start(3), errs.ErrInvalidArgument))
	assert.Equal(t, 2, sim.Snapshot().TotalEpochs)

	sched.Advance()
	sched.Advance()
	require.Equal(t, StateCompleted, sim.Snapshot().State)

	require.NoError(t, sim.Start(3))
	assert.Equal(t, StateRunning, sim.Snapshot().State)
	assert.Equal(t, 0, sim.Snapshot().CurrentEpoch)
}

func TestCancel(t *testing.T) {
	sink := &recordingSink{}
	sim, sched := newTestSimulator(sink)

	assert.True(t, errs.Is(sim.Cancel(), errs.ErrPrecondition))

	require.NoError(t, sim.Start(10))
	sched.Advance()
	require.NoError(t, sim.Cancel())
	assert.Equal(t, Run{State: StateIdle}, sim.Snapshot())
	assert.Equal(t, 0, sched.Advance())
	assert.Len(t, sink.samples, 1)
	require.Len(t, sink.finished, 1)
	assert.Equal(t, StateIdle, sink.finished[0].State)

	assert.True(t, errs.Is(sim.Cancel(), errs.ErrPrecondition))
}

func TestStaleTickIgnored(t *testing.T) {
	sim, _ := newTestSimulator(nil)
	require.NoError(t, sim.Start(3))
	stale := sim.gen
	require.NoError(t, sim.Cancel())
	require.NoError(t, sim.Start(3))

	sim.tick(stale)
	assert.Equal(t, 0, sim.Snapshot().CurrentEpoch)
}

func TestTickerSchedulerCompletesRun(t *testing.T) {
	done := make(chan Run, 1)
	sink := &finishSink{done: done}
	sim := NewSimulator(TickerScheduler{}, sink, WithInterval(time.Millisecond))

	require.NoError(t, sim.Start(3))
	select {
	case run := <-done:
		assert.Equal(t, StateCompleted, run.State)
		assert.Equal(t, 3, run.CurrentEpoch)
	case <-time.After(5 * time.Second):
		t.Fatal("simulation did not complete")
	}
}

type finishSink struct{ done chan Run }

func (f *finishSink) Begin(int)     {}
func (f *finishSink) Record(Sample) {}
func (f *finishSink) Finish(r Run)  { f.done <- r }

func TestLossChart(t *testing.T) {
	chart := NewLossChart()
	_, err := chart.SVG(600, 300)
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	sim, sched := newTestSimulator(MultiSink{chart, &recordingSink{}})
	require.NoError(t, sim.Start(4))
	for sched.Advance() > 0 {
	}
	assert.Len(t, chart.Samples(), 4)

	svg, err := chart.SVG(600, 300)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	require.NoError(t, sim.Start(4))
	sched.Advance()
	assert.Len(t, chart.Samples(), 1)
	require.NoError(t, sim.Cancel())
	assert.Empty(t, chart.Samples())
}
