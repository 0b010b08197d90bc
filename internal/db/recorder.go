package db

import (
	"context"
	"sync"
	"time"

	"apphost/internal/logger"
	"apphost/internal/runstate"
)

const recorderQueueSize = 512

// Recorder is a runstate.Observer that persists transitions of one run. Writes
// happen on a background goroutine so the tracker never waits on SQLite.
type Recorder struct {
	store  HistoryStore
	runID  string
	queue  chan runstate.Event
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a recorder for runID.
func NewRecorder(store HistoryStore, runID string) *Recorder {
	r := &Recorder{
		store: store,
		runID: runID,
		queue: make(chan runstate.Event, recorderQueueSize),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) OnTransition(e runstate.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		logger.WithFields(logger.Fields{"run_id": r.runID, "resource": e.Resource}).
			Warn("History queue full, dropping transition")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.RecordTransition(ctx, r.runID, e); err != nil {
			logger.WithError(err).WithField("run_id", r.runID).Warn("Failed to record transition")
		}
		cancel()
	}
}

// Close flushes queued transitions. Later transitions are ignored.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	<-r.done
}
