// Package schedule runs cancellable periodic tasks.
//
// The card countdown is driven through a Scheduler rather than a raw
// time.Ticker so that tests can deliver ticks deterministically.
package schedule

import (
	"sync"
	"time"
)

// Handle cancels a scheduled task. Cancel is idempotent and does not wait:
// a run that has already been picked up may still execute after Cancel
// returns, so tasks must tolerate one late run.
type Handle interface {
	Cancel()
}

// Scheduler runs task every interval until the returned Handle is cancelled.
type Scheduler interface {
	Every(interval time.Duration, task func()) Handle
}

// Ticker is the production Scheduler backed by time.Ticker.
type Ticker struct{}

// NewTicker returns a Scheduler that runs each task on its own goroutine.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Every implements Scheduler.
func (Ticker) Every(interval time.Duration, task func()) Handle {
	h := &tickerHandle{stop: make(chan struct{})}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-t.C:
				select {
				case <-h.stop:
					return
				default:
				}
				task()
			}
		}
	}()
	return h
}

type tickerHandle struct {
	once sync.Once
	stop chan struct{}
}

func (h *tickerHandle) Cancel() {
	h.once.Do(func() { close(h.stop) })
}
