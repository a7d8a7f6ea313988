package backend

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/imageref"
)

// Processor deshines one image.
type Processor interface {
	Process(ctx context.Context, image imageref.File, modelType string) (string, error)
}

// ProcessRequest is a queued /process call.
type ProcessRequest struct {
	Token     uint64
	Image     imageref.File
	ModelType string
	resultCh  chan *ProcessResult
}

// ProcessResult is the outcome of a queued request. Stale is set when a newer
// request was submitted before this one finished.
type ProcessResult struct {
	Token          uint64        `json:"token"`
	ModelType      string        `json:"model_type"`
	ProcessedImage string        `json:"processed_image,omitempty"`
	Cached         bool          `json:"cached"`
	Stale          bool          `json:"stale"`
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// ProcessQueue runs /process calls on a fixed worker pool. Only results that
// are still current when they finish reach onResult.
type ProcessQueue struct {
	requests chan *ProcessRequest
	proc     Processor
	cache    *ResultCache
	fence    Fence
	workers  int
	onResult func(*ProcessResult)

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewProcessQueue creates a queue. cache and onResult may be nil.
func NewProcessQueue(proc Processor, cache *ResultCache, workers int, onResult func(*ProcessResult)) *ProcessQueue {
	if workers <= 0 {
		workers = 1
	}
	return &ProcessQueue{
		requests: make(chan *ProcessRequest, 32),
		proc:     proc,
		cache:    cache,
		workers:  workers,
		onResult: onResult,
	}
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (q *ProcessQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	klog.Infof("[ProcessQueue] started %d workers", q.workers)
}

// Stop cancels in-flight work and waits for the workers to exit.
func (q *ProcessQueue) Stop() {
	if !q.stopped.CompareAndSwap(false, true) {
		return
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit queues image and waits for its result. Submitting supersedes every
// earlier request.
func (q *ProcessQueue) Submit(ctx context.Context, image imageref.File, modelType string) (*ProcessResult, error) {
	if q.stopped.Load() {
		return nil, errors.Wrap(errs.ErrPrecondition, "process queue is stopped")
	}
	req := &ProcessRequest{
		Token:     q.fence.Next(),
		Image:     image,
		ModelType: modelType,
		resultCh:  make(chan *ProcessResult, 1),
	}

	select {
	case q.requests <- req:
	default:
		return nil, errors.Wrap(errs.ErrPrecondition, "process queue is full")
	}

	select {
	case res := <-req.resultCh:
		return res, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of queued requests.
func (q *ProcessQueue) Pending() int {
	return len(q.requests)
}

func (q *ProcessQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.requests:
			res := q.run(ctx, req)
			res.Stale = !q.fence.Current(req.Token)
			if res.Stale {
				klog.V(1).Infof("[ProcessQueue] dropping stale result for token %d", req.Token)
			} else if res.Err == nil && q.onResult != nil {
				q.onResult(res)
			}
			req.resultCh <- res
		}
	}
}

func (q *ProcessQueue) run(ctx context.Context, req *ProcessRequest) *ProcessResult {
	start := time.Now()
	res := &ProcessResult{Token: req.Token, ModelType: req.ModelType}

	key := CacheKey(req.Image.Data, req.ModelType)
	if q.cache != nil {
		if processed, ok := q.cache.Get(key); ok {
			res.ProcessedImage = processed
			res.Cached = true
			res.Duration = time.Since(start)
			return res
		}
	}

	processed, err := q.proc.Process(ctx, req.Image, req.ModelType)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	res.ProcessedImage = processed
	if q.cache != nil {
		if err := q.cache.Put(key, req.ModelType, processed); err != nil {
			klog.Warningf("[ProcessQueue] cache put: %v", err)
		}
	}
	return res
}
