package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

func TestProgressTracker(t *testing.T) {
	clock := &fakeNow{t: time.Unix(1000, 0)}
	var reports []Progress
	tracker := newProgressTracker(func(p Progress) { reports = append(reports, p) }, clock.now)

	// Within the throttle window nothing is reported.
	tracker.Update(10, 100)
	assert.Empty(t, reports)

	clock.t = clock.t.Add(time.Second)
	tracker.Update(50, 100)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(50), reports[0].ProcessedBytes)
	assert.Equal(t, int64(100), reports[0].TotalBytes)
	assert.InDelta(t, 50.0, reports[0].AverageSpeed, 0.001)
	assert.Equal(t, time.Second, reports[0].EstimatedTime)

	tracker.Done()
	require.Len(t, reports, 2)
	assert.True(t, reports[1].Finished)
	assert.Equal(t, int64(100), reports[1].ProcessedBytes)
}

func TestProgressTrackerUnknownTotal(t *testing.T) {
	clock := &fakeNow{t: time.Unix(0, 0)}
	var last Progress
	tracker := newProgressTracker(func(p Progress) { last = p }, clock.now)

	clock.t = clock.t.Add(time.Second)
	tracker.Update(30, -1)
	assert.Equal(t, int64(-1), last.TotalBytes)
	assert.Zero(t, last.EstimatedTime)

	tracker.Done()
	assert.Equal(t, int64(30), last.TotalBytes)
}

func TestProgressTrackerError(t *testing.T) {
	var last Progress
	tracker := NewProgressTracker(func(p Progress) { last = p })
	boom := errors.New("boom")
	tracker.Error(boom)
	assert.True(t, last.Finished)
	assert.Equal(t, boom, last.Error)
}

func TestProgressFunc(t *testing.T) {
	var got [2]int64
	var r ProgressReporter = ProgressFunc(func(n, total int64) { got = [2]int64{n, total} })
	r.Update(3, 9)
	r.Done()
	r.Error(nil)
	assert.Equal(t, [2]int64{3, 9}, got)
}
