// Package training runs the simulated training progress shown while a model
// "trains". The losses it emits are synthetic.
package training

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/errs"
)

// State of a simulated run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

const (
	DefaultInterval = 500 * time.Millisecond

	startTrainingLoss   = 0.5
	startValidationLoss = 0.6
	maxTrainingStep     = 0.05
	maxValidationStep   = 0.04

	// TrainingLossFloor and ValidationLossFloor clamp the simulated losses.
	TrainingLossFloor   = 0.05
	ValidationLossFloor = 0.1
)

// Run is the state of the current simulated run.
type Run struct {
	CurrentEpoch   int     `json:"current_epoch"`
	TotalEpochs    int     `json:"total_epochs"`
	TrainingLoss   float64 `json:"training_loss"`
	ValidationLoss float64 `json:"validation_loss"`
	State          State   `json:"state"`
}

// Progress returns the completed fraction in [0, 1].
func (r Run) Progress() float64 {
	if r.TotalEpochs == 0 {
		return 0
	}
	return float64(r.CurrentEpoch) / float64(r.TotalEpochs)
}

// Sample is the metric point emitted on each tick.
type Sample struct {
	Epoch          int     `json:"epoch"`
	TrainingLoss   float64 `json:"training_loss"`
	ValidationLoss float64 `json:"validation_loss"`
}

// Sink consumes a run as it progresses. Methods are called with the
// simulator's lock held and must not call back into it.
type Sink interface {
	Begin(total int)
	Record(s Sample)
	// Finish is called once when the run completes or is cancelled.
	Finish(r Run)
}

// Simulator is the Idle -> Running -> Completed state machine.
type Simulator struct {
	mu       sync.Mutex
	sched    Scheduler
	sink     Sink
	interval time.Duration
	uniform  func() float64

	run  Run
	task Task
	gen  uint64
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRand sets the source of the uniform [0,1) loss decrements.
func WithRand(uniform func() float64) Option {
	return func(s *Simulator) { s.uniform = uniform }
}

// NewSimulator creates an idle simulator. sink may be nil.
func NewSimulator(sched Scheduler, sink Sink, opts ...Option) *Simulator {
	s := &Simulator{
		sched:    sched,
		sink:     sink,
		interval: DefaultInterval,
		uniform:  rand.Float64,
		run:      Run{State: StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a run of total epochs. It fails when total < 1 or a run is
// already in progress. A completed run may be followed by a new one.
func (s *Simulator) Start(total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if total < 1 {
		return errors.Wrapf(errs.ErrInvalidArgument, "total epochs must be at least 1, got %d", total)
	}
	if s.run.State == StateRunning {
		return errors.Wrap(errs.ErrInvalidArgument, "training is already running")
	}

	s.gen++
	gen := s.gen
	s.run = Run{
		TotalEpochs:    total,
		TrainingLoss:   startTrainingLoss,
		ValidationLoss: startValidationLoss,
		State:          StateRunning,
	}
	if s.sink != nil {
		s.sink.Begin(total)
	}
	s.task = s.sched.Every(s.interval, func() { s.tick(gen) })
	klog.Infof("[Training] simulated run started: %d epochs every %v", total, s.interval)
	return nil
}

// Cancel stops a running simulation and returns to Idle.
func (s *Simulator) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run.State != StateRunning {
		return errors.Wrapf(errs.ErrPrecondition, "cannot cancel training in state %s", s.run.State)
	}
	s.stopLocked()
	s.run = Run{State: StateIdle}
	if s.sink != nil {
		s.sink.Finish(s.run)
	}
	klog.Infof("[Training] simulated run cancelled")
	return nil
}

// Snapshot returns the current run.
func (s *Simulator) Snapshot() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

func (s *Simulator) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A tick from a cancelled or replaced run may still be in flight.
	if gen != s.gen || s.run.State != StateRunning {
		return
	}

	r := &s.run
	r.CurrentEpoch++
	r.TrainingLoss = max(TrainingLossFloor, r.TrainingLoss-maxTrainingStep*s.uniform())
	r.ValidationLoss = max(ValidationLossFloor, r.ValidationLoss-maxValidationStep*s.uniform())

	if s.sink != nil {
		s.sink.Record(Sample{Epoch: r.CurrentEpoch, TrainingLoss: r.TrainingLoss, ValidationLoss: r.ValidationLoss})
	}
	klog.V(2).Infof("[Training] epoch %d/%d loss=%.4f val_loss=%.4f", r.CurrentEpoch, r.TotalEpochs, r.TrainingLoss, r.ValidationLoss)

	if r.CurrentEpoch >= r.TotalEpochs {
		r.State = StateCompleted
		s.stopLocked()
		if s.sink != nil {
			s.sink.Finish(*r)
		}
		klog.Infof("[Training] simulated run completed after %d epochs", r.TotalEpochs)
	}
}

func (s *Simulator) stopLocked() {
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
}

// MultiSink fans a run out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Begin(total int) {
	for _, s := range m {
		s.Begin(total)
	}
}

func (m MultiSink) Record(sample Sample) {
	for _, s := range m {
		s.Record(sample)
	}
}

func (m MultiSink) Finish(r Run) {
	for _, s := range m {
		s.Finish(r)
	}
}
