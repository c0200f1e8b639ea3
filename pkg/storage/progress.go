package storage

import (
	"sync"
	"time"
)

// Progress is a point-in-time view of a transfer.
type Progress struct {
	TotalBytes     int64
	ProcessedBytes int64
	StartTime      time.Time
	CurrentSpeed   float64 // bytes per second since the previous report
	AverageSpeed   float64 // bytes per second since start
	EstimatedTime  time.Duration
	ElapsedTime    time.Duration
	Finished       bool
	Error          error
}

// ProgressCallback receives progress snapshots
type ProgressCallback func(Progress)

// ProgressFunc adapts a plain function to ProgressReporter. Done and Error are ignored.
type ProgressFunc func(bytesTransferred, totalBytes int64)

// Update implements ProgressReporter
func (f ProgressFunc) Update(bytesTransferred, totalBytes int64) { f(bytesTransferred, totalBytes) }

// Done implements ProgressReporter
func (f ProgressFunc) Done() {}

// Error implements ProgressReporter
func (f ProgressFunc) Error(error) {}

// ProgressTracker turns raw reporter updates into throttled Progress snapshots
// with speed and ETA.
type ProgressTracker struct {
	mu             sync.Mutex
	totalBytes     int64
	processedBytes int64
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	callback       ProgressCallback
	updateInterval time.Duration
	now            func() time.Time
}

var _ ProgressReporter = (*ProgressTracker)(nil)

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(callback ProgressCallback) *ProgressTracker {
	return newProgressTracker(callback, time.Now)
}

func newProgressTracker(callback ProgressCallback, now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		totalBytes:     -1,
		startTime:      t,
		lastUpdate:     t,
		callback:       callback,
		updateInterval: 100 * time.Millisecond,
		now:            now,
	}
}

// SetUpdateInterval changes the minimum gap between two Update-driven reports.
func (pt *ProgressTracker) SetUpdateInterval(d time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.updateInterval = d
}

// Update implements ProgressReporter
func (pt *ProgressTracker) Update(bytesTransferred, totalBytes int64) {
	pt.mu.Lock()
	pt.processedBytes = bytesTransferred
	pt.totalBytes = totalBytes
	now := pt.now()
	if now.Sub(pt.lastUpdate) < pt.updateInterval {
		pt.mu.Unlock()
		return
	}
	p := pt.calculateProgress(now)
	pt.lastUpdate = now
	pt.lastBytes = pt.processedBytes
	pt.mu.Unlock()

	pt.report(p)
}

// Done implements ProgressReporter
func (pt *ProgressTracker) Done() {
	pt.mu.Lock()
	if pt.totalBytes < 0 {
		pt.totalBytes = pt.processedBytes
	}
	pt.processedBytes = pt.totalBytes
	p := pt.calculateProgress(pt.now())
	p.Finished = true
	pt.mu.Unlock()

	pt.report(p)
}

// Error implements ProgressReporter
func (pt *ProgressTracker) Error(err error) {
	pt.mu.Lock()
	p := pt.calculateProgress(pt.now())
	p.Finished = true
	p.Error = err
	pt.mu.Unlock()

	pt.report(p)
}

func (pt *ProgressTracker) report(p Progress) {
	if pt.callback != nil {
		pt.callback(p)
	}
}

// calculateProgress must be called with mu held.
func (pt *ProgressTracker) calculateProgress(now time.Time) Progress {
	elapsedTime := now.Sub(pt.startTime)

	currentSpeed := float64(0)
	if timeDiff := now.Sub(pt.lastUpdate).Seconds(); timeDiff > 0 {
		currentSpeed = float64(pt.processedBytes-pt.lastBytes) / timeDiff
	}

	averageSpeed := float64(0)
	if elapsedSeconds := elapsedTime.Seconds(); elapsedSeconds > 0 {
		averageSpeed = float64(pt.processedBytes) / elapsedSeconds
	}

	estimatedTime := time.Duration(0)
	if averageSpeed > 0 && pt.totalBytes > 0 {
		remainingBytes := pt.totalBytes - pt.processedBytes
		estimatedTime = time.Duration(float64(remainingBytes) / averageSpeed * float64(time.Second))
	}

	return Progress{
		TotalBytes:     pt.totalBytes,
		ProcessedBytes: pt.processedBytes,
		StartTime:      pt.startTime,
		CurrentSpeed:   currentSpeed,
		AverageSpeed:   averageSpeed,
		EstimatedTime:  estimatedTime,
		ElapsedTime:    elapsedTime,
	}
}
