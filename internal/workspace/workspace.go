// Package workspace is the single owner of the studio's local state. HTTP
// handlers and the CLI drive it; every mutation goes through one lock so the
// stores see one operation at a time.
package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/architecture"
	"UnShiney/server/internal/backend"
	"UnShiney/server/internal/dataset"
	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/imageref"
	"UnShiney/server/internal/interfaces"
	"UnShiney/server/internal/models"
	"UnShiney/server/internal/training"
)

// Event names published to connected pages.
const (
	EventStaging         = "staging"
	EventDataset         = "dataset"
	EventModel           = "model"
	EventProcessed       = "processed"
	EventTrainingStart   = "training.started"
	EventTrainingSample  = "training.sample"
	EventTrainingFinish  = "training.finished"
	EventTrainingRequest = "training.upstream"
)

// Publisher delivers change events to whoever renders them.
type Publisher interface {
	Publish(event string, payload interface{})
}

// Upstream is the part of the deshine service the workspace calls directly.
type Upstream interface {
	Train(ctx context.Context, modelType string) error
	GenerateSyntheticDataset(ctx context.Context) (string, error)
	GetDataset(ctx context.Context, id string) (*backend.GeneratedDataset, error)
	HealthCheck(ctx context.Context) error
}

// Deps wires a Workspace. Snapshots, Cache and Events may be nil; a nil
// Processor falls back to Upstream when it can process images.
type Deps struct {
	Upstream  Upstream
	Processor backend.Processor
	Cache     *backend.ResultCache
	Configs   interfaces.ConfigStore
	Snapshots interfaces.SnapshotStore
	Events    Publisher
	Scheduler training.Scheduler

	TickInterval   time.Duration
	ProcessWorkers int
	SamplePreviews int
	ThumbnailSize  int
}

type Workspace struct {
	mu       sync.Mutex
	staging  *dataset.StagingArea
	pairs    *dataset.Store
	importer *dataset.Importer
	bench    *architecture.Workbench
	sim      *training.Simulator
	chart    *training.LossChart

	upstream  Upstream
	queue     *backend.ProcessQueue
	configs   interfaces.ConfigStore
	snapshots interfaces.SnapshotStore
	events    Publisher

	samplePreviews int
	thumbnailSize  int

	latestMu sync.RWMutex
	latest   *backend.ProcessResult
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}

// New builds a workspace with an empty dataset and the dense preset loaded.
func New(d Deps) *Workspace {
	w := &Workspace{
		upstream:       d.Upstream,
		configs:        d.Configs,
		snapshots:      d.Snapshots,
		events:         d.Events,
		samplePreviews: d.SamplePreviews,
		thumbnailSize:  d.ThumbnailSize,
	}
	if w.events == nil {
		w.events = nopPublisher{}
	}
	if w.samplePreviews <= 0 {
		w.samplePreviews = 5
	}
	if w.thumbnailSize <= 0 {
		w.thumbnailSize = 128
	}
	sched := d.Scheduler
	if sched == nil {
		sched = training.TickerScheduler{}
	}

	w.staging = dataset.NewStagingArea()
	w.pairs = dataset.NewStore(w.datasetChanged)
	w.importer = dataset.NewImporter(w.pairs)
	w.bench = architecture.NewWorkbench(func(summary []string) {
		w.events.Publish(EventModel, summary)
	})
	w.chart = training.NewLossChart()
	w.sim = training.NewSimulator(sched, training.MultiSink{w.chart, eventSink{w.events}}, training.WithInterval(d.TickInterval))
	proc := d.Processor
	if proc == nil {
		proc, _ = d.Upstream.(backend.Processor)
	}
	w.queue = backend.NewProcessQueue(proc, d.Cache, d.ProcessWorkers, w.processed)
	return w
}

// Start launches the process workers and restores the autosaved dataset.
func (w *Workspace) Start(ctx context.Context) {
	w.queue.Start(ctx)
	if w.snapshots == nil {
		return
	}
	data, err := w.snapshots.LoadDataset(ctx)
	if err != nil {
		if !errs.Is(err, errs.ErrNotFound) {
			klog.Warningf("[Workspace] restore dataset: %v", err)
		}
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.pairs.Deserialize(data); err != nil {
		klog.Warningf("[Workspace] autosaved dataset is unreadable: %v", err)
		return
	}
	klog.Infof("[Workspace] restored %d pairs", w.pairs.Len())
}

// Close stops background work. A running simulation is cancelled.
func (w *Workspace) Close() {
	w.queue.Stop()
	_ = w.sim.Cancel()
}

func (w *Workspace) datasetChanged(view dataset.View) {
	w.events.Publish(EventDataset, view)
	if w.snapshots == nil {
		return
	}
	data, err := w.pairs.Serialize()
	if err == nil {
		err = w.snapshots.SaveDataset(context.Background(), data)
	}
	if err != nil {
		klog.Warningf("[Workspace] autosave dataset: %v", err)
	}
}

func (w *Workspace) processed(res *backend.ProcessResult) {
	w.latestMu.Lock()
	w.latest = res
	w.latestMu.Unlock()
	w.events.Publish(EventProcessed, res)
}

// Staging

// StagingView reports what is waiting to be paired.
type StagingView struct {
	Original string `json:"original,omitempty"`
	Clean    string `json:"clean,omitempty"`
	Complete bool   `json:"complete"`
}

func (w *Workspace) stagingViewLocked() StagingView {
	original, _ := w.staging.Staged(dataset.SlotOriginal)
	clean, _ := w.staging.Staged(dataset.SlotClean)
	return StagingView{Original: original, Clean: clean, Complete: w.staging.IsComplete()}
}

func (w *Workspace) Staging() StagingView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stagingViewLocked()
}

// StageImage validates f and places it in slot, replacing what was there.
func (w *Workspace) StageImage(slot dataset.Slot, f imageref.File) (StagingView, error) {
	ref, err := imageref.FromFile(f)
	if err != nil {
		return StagingView{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.staging.Stage(slot, ref); err != nil {
		return StagingView{}, err
	}
	view := w.stagingViewLocked()
	w.events.Publish(EventStaging, view)
	return view, nil
}

// CommitStaging turns the staged images into a dataset pair.
func (w *Workspace) CommitStaging() (models.ImagePair, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pair, err := w.staging.Commit()
	if err != nil {
		return models.ImagePair{}, err
	}
	pair, err = w.pairs.Add(pair)
	if err != nil {
		return models.ImagePair{}, err
	}
	w.events.Publish(EventStaging, w.stagingViewLocked())
	return pair, nil
}

func (w *Workspace) ResetStaging() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staging.Reset()
	w.events.Publish(EventStaging, w.stagingViewLocked())
}

// Dataset

// DatasetState is the dataset panel: the pairs plus the derived view.
type DatasetState struct {
	dataset.View
	Pairs []models.ImagePair `json:"pairs"`
}

func (w *Workspace) Dataset() DatasetState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return DatasetState{View: w.pairs.View(), Pairs: w.pairs.Pairs()}
}

func (w *Workspace) RemovePair(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pairs.Remove(id)
}

// ClearDataset empties the dataset once the user has confirmed.
func (w *Workspace) ClearDataset(confirmed bool) error {
	if !confirmed {
		return errors.Wrap(errs.ErrPrecondition, "clearing the dataset needs confirmation")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pairs.Clear()
	return nil
}

func (w *Workspace) ExportDataset() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pairs.Serialize()
}

// ImportDataset replaces the dataset with a snapshot, or keeps it on error.
func (w *Workspace) ImportDataset(data []byte) (dataset.View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.pairs.Deserialize(data); err != nil {
		return w.pairs.View(), err
	}
	return w.pairs.View(), nil
}

// BulkImport pairs and adds a batch of uploaded files.
func (w *Workspace) BulkImport(files []imageref.File) ([]models.ImagePair, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.importer.ImportBatch(files)
}

// SampleResult reports a synthetic dataset request.
type SampleResult struct {
	DatasetID string             `json:"dataset_id"`
	ItemCount int                `json:"item_count"`
	Added     []models.ImagePair `json:"added"`
}

// GenerateSamples asks the server for a synthetic dataset and adds the first
// previews to the dataset as sample pairs.
func (w *Workspace) GenerateSamples(ctx context.Context) (*SampleResult, error) {
	id, err := w.upstream.GenerateSyntheticDataset(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := w.upstream.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &SampleResult{DatasetID: id, ItemCount: ds.ItemCount}
	if ds.ItemCount <= 0 {
		return res, nil
	}

	previews := ds.Preview
	if len(previews) > w.samplePreviews {
		previews = previews[:w.samplePreviews]
	}
	pending := make([]models.ImagePair, 0, len(previews))
	for _, p := range previews {
		pending = append(pending, models.ImagePair{
			Original: w.thumbnail(p.Original),
			Clean:    w.thumbnail(p.Clean),
			IsSample: true,
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range pending {
		added, err := w.pairs.Add(p)
		if err != nil {
			return res, err
		}
		res.Added = append(res.Added, added)
	}
	klog.Infof("[Workspace] added %d sample pairs from dataset %s (%d items)", len(res.Added), id, ds.ItemCount)
	return res, nil
}

func (w *Workspace) thumbnail(ref string) string {
	thumb, err := imageref.Thumbnail(ref, w.thumbnailSize)
	if err != nil {
		klog.V(1).Infof("[Workspace] keeping preview as sent: %v", err)
		return ref
	}
	return thumb
}

// Model builder

// ModelState is the model builder panel.
type ModelState struct {
	Type    architecture.Preset    `json:"type"`
	Layers  models.LayerList       `json:"layers"`
	Summary []string               `json:"summary"`
	Params  models.Hyperparameters `json:"params"`
}

func (w *Workspace) modelStateLocked() ModelState {
	return ModelState{
		Type:    w.bench.ModelType(),
		Layers:  w.bench.Editor.Layers(),
		Summary: w.bench.Editor.Summary(),
		Params:  w.bench.Params(),
	}
}

func (w *Workspace) Model() ModelState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.modelStateLocked()
}

func (w *Workspace) SelectPreset(p architecture.Preset) (ModelState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bench.SelectPreset(p); err != nil {
		return ModelState{}, err
	}
	return w.modelStateLocked(), nil
}

// AddLayer inserts a default layer of kind before the Output layer.
func (w *Workspace) AddLayer(kind models.LayerKind) (ModelState, error) {
	l, err := architecture.NewLayer(kind)
	if err != nil {
		return ModelState{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.bench.Editor.Insert(l, false); err != nil {
		return ModelState{}, err
	}
	return w.modelStateLocked(), nil
}

func (w *Workspace) RemoveLayer(index int) (ModelState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bench.Editor.RemoveAt(index); err != nil {
		return ModelState{}, err
	}
	return w.modelStateLocked(), nil
}

// UpdateLayer applies field edits to one layer as a single change: either
// every field is applied or the layer is left untouched.
func (w *Workspace) UpdateLayer(index int, fields map[string]string) (ModelState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bench.Editor.UpdateFields(index, fields); err != nil {
		return w.modelStateLocked(), err
	}
	return w.modelStateLocked(), nil
}

func (w *Workspace) SetParams(p models.Hyperparameters) (ModelState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bench.SetParams(p); err != nil {
		return ModelState{}, err
	}
	w.events.Publish(EventModel, w.bench.Editor.Summary())
	return w.modelStateLocked(), nil
}

// SaveModelConfig appends the current builder state to the config slot and
// returns it with its download file name.
func (w *Workspace) SaveModelConfig(ctx context.Context, name, description string) (models.ModelConfiguration, string, error) {
	w.mu.Lock()
	cfg := w.bench.Save(name, description)
	w.mu.Unlock()

	if err := w.configs.AppendModelConfig(ctx, cfg); err != nil {
		return cfg, "", err
	}
	klog.Infof("[Workspace] saved model config %q (%s, %d layers)", cfg.Name, cfg.Type, len(cfg.Layers))
	return cfg, architecture.ExportFileName(cfg.Name), nil
}

func (w *Workspace) ListModelConfigs(ctx context.Context) ([]models.ModelConfiguration, error) {
	return w.configs.ListModelConfigs(ctx)
}

// LoadModelConfig replaces the builder with a configuration document.
func (w *Workspace) LoadModelConfig(data []byte) (ModelState, error) {
	cfg, err := models.ParseModelConfiguration(data)
	if err != nil {
		return ModelState{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bench.Load(cfg); err != nil {
		return w.modelStateLocked(), errors.Wrapf(errs.ErrFormat, "configuration: %v", err)
	}
	return w.modelStateLocked(), nil
}

// Training

// StartTraining starts the simulated run for the configured epoch count and
// tells the server to train in the background.
func (w *Workspace) StartTraining(ctx context.Context) (training.Run, error) {
	w.mu.Lock()
	epochs := w.bench.Params().Epochs
	modelType := string(w.bench.ModelType())
	err := w.sim.Start(epochs)
	w.mu.Unlock()
	if err != nil {
		return w.sim.Snapshot(), err
	}

	go func() {
		// The reply is informational; progress comes from the simulation.
		if err := w.upstream.Train(context.WithoutCancel(ctx), modelType); err != nil {
			klog.Warningf("[Workspace] upstream train: %v", err)
			w.events.Publish(EventTrainingRequest, map[string]string{"error": err.Error()})
			return
		}
		w.events.Publish(EventTrainingRequest, map[string]string{"status": "accepted"})
	}()
	return w.sim.Snapshot(), nil
}

func (w *Workspace) CancelTraining() (training.Run, error) {
	if err := w.sim.Cancel(); err != nil {
		return w.sim.Snapshot(), err
	}
	return w.sim.Snapshot(), nil
}

func (w *Workspace) Training() training.Run {
	return w.sim.Snapshot()
}

func (w *Workspace) LossChart(width, height int) ([]byte, error) {
	return w.chart.SVG(width, height)
}

// Processing

// Process deshines f with modelType, or the builder's current type when
// empty. Only the latest submission updates LatestProcessed.
func (w *Workspace) Process(ctx context.Context, f imageref.File, modelType string) (*backend.ProcessResult, error) {
	if _, err := imageref.FromFile(f); err != nil {
		return nil, err
	}
	if modelType == "" {
		w.mu.Lock()
		modelType = string(w.bench.ModelType())
		w.mu.Unlock()
	}
	return w.queue.Submit(ctx, f, modelType)
}

func (w *Workspace) LatestProcessed() (*backend.ProcessResult, bool) {
	w.latestMu.RLock()
	defer w.latestMu.RUnlock()
	return w.latest, w.latest != nil
}

// Health reports whether the deshine service answers.
func (w *Workspace) Health(ctx context.Context) error {
	return w.upstream.HealthCheck(ctx)
}

type eventSink struct{ events Publisher }

func (s eventSink) Begin(total int) {
	s.events.Publish(EventTrainingStart, map[string]int{"total_epochs": total})
}

func (s eventSink) Record(sample training.Sample) {
	s.events.Publish(EventTrainingSample, sample)
}

func (s eventSink) Finish(r training.Run) {
	s.events.Publish(EventTrainingFinish, r)
}
