package db

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/temperature.report/internal/timeutil"
)

const (
	DefaultRetentionWindow   = 7 * 24 * time.Hour
	DefaultRetentionInterval = time.Hour
)

// RetentionWorker periodically deletes readings older than Window. It runs
// once immediately when started and then every Interval.
type RetentionWorker struct {
	DB       *DB
	Window   time.Duration
	Interval time.Duration
	Clock    timeutil.Clock
	StopChan chan struct{}
	done     chan struct{}
}

func NewRetentionWorker(db *DB, window, interval time.Duration) *RetentionWorker {
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	return &RetentionWorker{
		DB:       db,
		Window:   window,
		Interval: interval,
		Clock:    timeutil.RealClock{},
		StopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *RetentionWorker) Start() {
	ticker := w.Clock.NewTicker(w.Interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		w.runLogged()
		for {
			select {
			case <-ticker.C():
				w.runLogged()
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop and waits for an in-flight prune.
func (w *RetentionWorker) Stop() {
	close(w.StopChan)
	<-w.done
}

// RunOnce prunes everything older than the retention window.
func (w *RetentionWorker) RunOnce(ctx context.Context) (int64, error) {
	return w.DB.PruneOlderThan(ctx, w.Clock.Now(), w.Window)
}

func (w *RetentionWorker) runLogged() {
	n, err := w.RunOnce(context.Background())
	if err != nil {
		log.Printf("retention worker run error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Retention worker: pruned %d readings older than %s", n, w.Window)
	}
}
