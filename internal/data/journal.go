package data

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"vendingmachine/internal/logger"
	"vendingmachine/internal/machine"
)

// DefaultBuffer is the number of events that can wait for the writer.
const DefaultBuffer = 256

// ErrJournalClosed is returned by Flush after Close.
var ErrJournalClosed = errors.New("journal is closed")

type journalItem struct {
	entry Entry
	done  chan struct{} // set for flush barriers
}

// Journal stores machine events in SQLite from a background goroutine.
// Record never blocks: when the buffer is full the event is dropped and
// counted.
type Journal struct {
	db   *DB
	repo *JournalRepository

	mu      sync.RWMutex
	closed  bool
	items   chan journalItem
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
}

var _ machine.Recorder = (*Journal)(nil)

// OpenJournal opens the database at path and starts the writer.
func OpenJournal(path string, buffer int) (*Journal, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return NewJournal(db, buffer), nil
}

// NewJournal starts a writer on an already open database. The journal owns
// db from here on.
func NewJournal(db *DB, buffer int) *Journal {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	j := &Journal{
		db:    db,
		repo:  NewJournalRepository(db),
		items: make(chan journalItem, buffer),
	}
	j.wg.Add(1)
	go j.run()
	logger.LogInfo("Journal writer started (path=%s, buffer=%d)", db.Path(), buffer)
	return j
}

func (j *Journal) run() {
	defer j.wg.Done()
	for item := range j.items {
		if item.done != nil {
			close(item.done)
			continue
		}
		if err := j.repo.Insert(context.Background(), item.entry); err != nil {
			j.failed.Add(1)
			logger.LogError("Failed to journal %s event: %v", item.entry.Kind, err)
		}
	}
}

// Record queues an event for writing.
func (j *Journal) Record(e machine.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}

	select {
	case j.items <- journalItem{entry: EntryFromEvent(e)}:
	default:
		n := j.dropped.Add(1)
		logger.LogWarn("Journal buffer full, dropped %s event (%d dropped so far)", e.Kind, n)
	}
}

// Flush waits until every event queued before the call has been written.
func (j *Journal) Flush(ctx context.Context) error {
	done := make(chan struct{})

	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrJournalClosed
	}
	select {
	case j.items <- journalItem{done: done}:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and closes the database. It is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.items)
	j.mu.Unlock()

	j.wg.Wait()
	if n := j.dropped.Load(); n > 0 {
		logger.LogWarn("Journal closed with %d dropped events", n)
	}
	return j.db.Close()
}

// Dropped returns how many events were discarded.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Failed returns how many queued events could not be written.
func (j *Journal) Failed() int64 { return j.failed.Load() }

// Entries lists stored entries, newest first.
func (j *Journal) Entries(ctx context.Context, opts ListOptions) ([]Entry, error) {
	return j.repo.List(ctx, opts)
}

// SalesSummary totals stored sales per product.
func (j *Journal) SalesSummary(ctx context.Context) ([]ProductSales, error) {
	return j.repo.SalesSummary(ctx)
}

// Prune deletes at most limit entries older than cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return j.repo.Prune(ctx, cutoff, limit)
}

// Ping checks the database.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.Ping(ctx)
}
