// Package upload drives resumable uploads as pausable, cancelable tasks.
package upload

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sgl-project/objclient/pkg/logging"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/requests"
	"github.com/sgl-project/objclient/pkg/storage"
)

// DefaultChunkSize is the amount of data sent per chunk request.
const DefaultChunkSize int64 = 256 * 1024

// Snapshot is a point-in-time view of a Task.
type Snapshot struct {
	ID               string
	State            State
	BytesTransferred int64
	// TotalBytes is -1 until the size is known.
	TotalBytes int64
	SessionURL string
}

type canceler interface {
	Cancel()
}

// Task uploads one object through a resumable session. Chunks are sent strictly one
// at a time; Pause takes effect at the next chunk boundary.
type Task struct {
	id      string
	exec    *request.Executor
	cfg     requests.Config
	loc     storage.Location
	src     *Source
	opts    storage.UploadOptions
	log     logging.Interface
	metrics *request.Metrics

	mu          sync.Mutex
	state       State
	resumeCh    chan struct{}
	inflight    canceler
	cancelRun   context.CancelFunc
	sessionURL  string
	transferred int64
	total       int64
	result      *storage.UploadResult
	err         error
	done        chan struct{}
	// reporting is set while Progress.Update runs; a settlement that lands
	// meanwhile parks its notification in deferred.
	reporting bool
	deferred  func()
}

// New creates a task that uploads src to loc once started.
func New(exec *request.Executor, cfg requests.Config, loc storage.Location, src *Source, opts ...storage.UploadOption) (*Task, error) {
	if exec == nil {
		return nil, storage.InvalidArgument("executor is required")
	}
	if src == nil {
		return nil, storage.InvalidArgument("upload source is required")
	}
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("uploadResumable")
	}
	o := storage.BuildUploadOptions(opts...)
	if o.ChunkSize < 0 {
		return nil, storage.InvalidArgument("chunk size must be positive")
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}

	id := uuid.New().String()
	return &Task{
		id:         id,
		exec:       exec,
		cfg:        cfg,
		loc:        loc,
		src:        src,
		opts:       o,
		log:        exec.Logger().WithField("upload_id", id).WithField("object", loc.String()),
		metrics:    exec.Metrics(),
		state:      StateNotStarted,
		sessionURL: o.SessionURL,
		total:      src.Size(),
		done:       make(chan struct{}),
	}, nil
}

// ID identifies the task in logs.
func (t *Task) ID() string {
	return t.id
}

// Start begins the upload. The task is canceled if ctx ends before it settles.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateNotStarted {
		return invalidTransition("start", t.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancelRun = cancel
	t.state = StateRunning
	t.metrics.TransferStarted()
	t.log.WithField("chunk_size", t.opts.ChunkSize).WithField("size", t.total).Info("Starting resumable upload")
	go t.run(ctx)
	return nil
}

// Pause withholds the next chunk. The chunk in flight, if any, still completes,
// and when it was the last one the task settles Completed without a Resume.
func (t *Task) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return invalidTransition("pause", t.state)
	}
	t.state = StatePaused
	t.resumeCh = make(chan struct{})
	t.log.WithField("bytes", t.transferred).Info("Upload paused")
	return nil
}

// Resume continues a paused upload with the next pending chunk.
func (t *Task) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePaused {
		return invalidTransition("resume", t.state)
	}
	t.state = StateRunning
	close(t.resumeCh)
	t.resumeCh = nil
	t.log.Info("Upload resumed")
	return nil
}

// Cancel aborts the request in flight and settles the task as canceled. No request
// is sent for the task once Cancel returns.
func (t *Task) Cancel() error {
	t.mu.Lock()
	if t.state != StateRunning && t.state != StatePaused {
		defer t.mu.Unlock()
		return invalidTransition("cancel", t.state)
	}
	if t.inflight != nil {
		t.inflight.Cancel()
		t.inflight = nil
	}
	err := storage.Canceled()
	t.finishLocked(StateCanceled, nil, err)
	t.mu.Unlock()

	t.notify(err)
	return nil
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task settles or ctx ends.
func (t *Task) Wait(ctx context.Context) (*storage.UploadResult, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the current progress.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:               t.id,
		State:            t.state,
		BytesTransferred: t.transferred,
		TotalBytes:       t.total,
		SessionURL:       t.sessionURL,
	}
}

func (t *Task) run(ctx context.Context) {
	status, ok := t.open(ctx)
	if !ok {
		return
	}

	for !status.Finalized {
		if !t.awaitRunning(ctx) {
			return
		}
		chunk, final, err := t.src.chunk(status.Current, t.opts.ChunkSize)
		if err != nil {
			t.fail(err)
			return
		}
		spec, err := requests.ContinueResumableUpload(t.cfg, t.loc, t.sessionURL, status, chunk, final)
		if err != nil {
			t.fail(err)
			return
		}
		t.log.WithField("offset", status.Current).WithField("length", len(chunk)).WithField("final", final).Debug("Sending chunk")
		next, err := execute(ctx, t, spec)
		if err != nil {
			t.fail(err)
			return
		}
		if final && !next.Finalized {
			t.fail(storage.NewError(storage.CodeUnknown, "service did not finalize the upload after the last chunk"))
			return
		}
		t.progress(next, next.Current-status.Current)
		status = next
	}
	t.complete(ctx, status)
}

// open creates the session, or recovers an existing one, and returns its status.
func (t *Task) open(ctx context.Context) (requests.ResumableUploadStatus, bool) {
	if t.sessionURL == "" {
		spec, err := requests.CreateResumableUpload(t.cfg, t.loc, t.total, t.opts.ContentType, t.opts.Metadata)
		if err != nil {
			t.fail(err)
			return requests.ResumableUploadStatus{}, false
		}
		sessionURL, err := execute(ctx, t, spec)
		if err != nil {
			t.fail(err)
			return requests.ResumableUploadStatus{}, false
		}
		t.mu.Lock()
		t.sessionURL = sessionURL
		t.mu.Unlock()
		t.log.Debug("Resumable session created")
		return requests.ResumableUploadStatus{Total: t.total}, true
	}

	spec, err := requests.GetResumableUploadStatus(t.cfg, t.loc, t.sessionURL, t.total)
	if err != nil {
		t.fail(err)
		return requests.ResumableUploadStatus{}, false
	}
	status, err := execute(ctx, t, spec)
	if err != nil {
		t.fail(err)
		return requests.ResumableUploadStatus{}, false
	}
	t.log.WithField("offset", status.Current).WithField("finalized", status.Finalized).Info("Recovered resumable session")
	t.progress(status, 0)
	return status, true
}

func (t *Task) complete(ctx context.Context, status requests.ResumableUploadStatus) {
	md := status.Metadata
	if md == nil {
		spec, err := requests.GetMetadata(t.cfg, t.loc)
		if err != nil {
			t.fail(err)
			return
		}
		if md, err = execute(ctx, t, spec); err != nil {
			t.fail(err)
			return
		}
	}

	t.mu.Lock()
	won := t.finishLocked(StateCompleted, &storage.UploadResult{Metadata: md, Location: t.loc}, nil)
	t.mu.Unlock()
	if won {
		t.notify(nil)
	}
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	state := StateFailed
	if storage.IsCanceled(err) {
		state = StateCanceled
	}
	won := t.finishLocked(state, nil, err)
	t.mu.Unlock()
	if won {
		t.notify(err)
	}
}

// finishLocked moves the task to a terminal state once and reports whether this
// call did so. The winner must call notify after releasing the lock.
func (t *Task) finishLocked(state State, result *storage.UploadResult, err error) bool {
	if t.state.Terminal() {
		return false
	}
	t.state = state
	t.result, t.err = result, err
	if t.resumeCh != nil {
		close(t.resumeCh)
		t.resumeCh = nil
	}
	if t.cancelRun != nil {
		t.cancelRun()
	}
	t.metrics.TransferFinished(state.String())

	log := t.log.WithField("state", state.String()).WithField("bytes", t.transferred)
	if err != nil {
		log = log.WithError(err)
	}
	log.Info("Upload finished")
	return true
}

// notify reports the outcome to the progress reporter, then releases waiters.
// While an Update is running the report waits for it to return.
func (t *Task) notify(err error) {
	settle := func() {
		if t.opts.Progress != nil {
			if err != nil {
				t.opts.Progress.Error(err)
			} else {
				t.opts.Progress.Done()
			}
		}
		close(t.done)
	}

	t.mu.Lock()
	if t.reporting {
		t.deferred = settle
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	settle()
}

// progress records status and the bytes the last chunk added. It does nothing
// once the task has settled, so no Update follows Error or Done.
func (t *Task) progress(status requests.ResumableUploadStatus, uploaded int64) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.metrics.ObserveUploadedBytes(uploaded)
	t.transferred = status.Current
	if status.Total >= 0 {
		t.total = status.Total
	}
	transferred, total := t.transferred, t.total
	if t.opts.Progress == nil {
		t.mu.Unlock()
		return
	}
	t.reporting = true
	t.mu.Unlock()

	t.opts.Progress.Update(transferred, total)

	t.mu.Lock()
	t.reporting = false
	settle := t.deferred
	t.deferred = nil
	t.mu.Unlock()
	if settle != nil {
		settle()
	}
}

// awaitRunning blocks while the task is paused. It returns false once the task
// has settled or ctx ended.
func (t *Task) awaitRunning(ctx context.Context) bool {
	for {
		t.mu.Lock()
		state, resumeCh := t.state, t.resumeCh
		t.mu.Unlock()

		switch state {
		case StateRunning:
			if ctx.Err() != nil {
				t.fail(storage.WrapError(storage.CodeCanceled, "upload context ended", context.Cause(ctx)))
				return false
			}
			return true
		case StatePaused:
			select {
			case <-resumeCh:
			case <-ctx.Done():
				t.fail(storage.WrapError(storage.CodeCanceled, "upload context ended", context.Cause(ctx)))
				return false
			}
		default:
			return false
		}
	}
}

// execute runs spec as the task's single in-flight request. The request is
// registered before it starts so Cancel always reaches it.
func execute[T any](ctx context.Context, t *Task, spec *request.Spec[T]) (T, error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return *new(T), storage.Canceled()
	}
	h := request.Start(ctx, t.exec, spec)
	t.inflight = h
	t.mu.Unlock()

	v, err := h.Wait(context.Background())

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight == canceler(h) {
		t.inflight = nil
	}
	if t.state.Terminal() {
		return *new(T), storage.Canceled()
	}
	return v, err
}
