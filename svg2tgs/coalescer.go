package svg2tgs

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchItem is a single submitted file, recorded by reference: the
// content is downloaded from Telegram when the batch is processed, not
// at submission time.
type BatchItem struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// Batch is a flushed set of submissions from one user, handed to the
// processor as an immutable snapshot.
type Batch struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Items     []BatchItem `json:"items"`
	FlushedAt time.Time `json:"flushed_at"`
}

// pendingBatch accumulates one user's submissions while their
// quiescence window is open. generation increments on every submission;
// a timer that fires with a stale generation was superseded and does
// nothing. Guarded by Coalescer.mu.
type pendingBatch struct {
	chatID     int64
	items      []BatchItem
	timer      *time.Timer
	generation uint64
}

// Coalescer merges rapid-fire submissions from the same user into a
// single batch. Each submission restarts that user's window; when the
// window elapses with no new submissions, the accumulated batch is
// removed from the pending set and handed to the flush callback on its
// own goroutine. Different users never share state.
type Coalescer struct {
	mu      sync.Mutex
	pending map[int64]*pendingBatch
	window  time.Duration
	flush   func(Batch)
	logger  *slog.Logger
	wg      sync.WaitGroup
	stopped bool
}

// NewCoalescer creates a Coalescer with the given quiescence window.
// flush is invoked once per batch, on a dedicated goroutine.
func NewCoalescer(
	window time.Duration,
	logger *slog.Logger,
	flush func(Batch),
) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultBatchWindow
	}
	return &Coalescer{
		pending: map[int64]*pendingBatch{},
		window:  window,
		flush:   flush,
		logger:  logger.With(loggerNameKey, "coalescer"),
	}
}

// Submit adds an item to the user's pending batch, creating one if
// needed, and restarts their quiescence window. Appending the item and
// rescheduling the timer happen under the same lock, so a submission
// can never land in a batch that's already been flushed.
//
// Returns the number of items now pending for the user, or 0 if the
// coalescer has been stopped.
func (c *Coalescer) Submit(userID int64, chatID int64, item BatchItem) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return 0
	}

	pb, ok := c.pending[userID]
	if !ok {
		pb = &pendingBatch{chatID: chatID}
		c.pending[userID] = pb
	}
	pb.chatID = chatID
	pb.items = append(pb.items, item)
	pb.generation++
	generation := pb.generation

	if pb.timer != nil {
		pb.timer.Stop()
	}
	pb.timer = time.AfterFunc(
		c.window,
		func() {
			c.fire(userID, generation)
		},
	)
	return len(pb.items)
}

// PendingUsers returns the number of users with an open window.
func (c *Coalescer) PendingUsers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// fire flushes the user's batch if generation is still current. A timer
// that lost the race to a newer submission sees a stale generation and
// returns without doing anything.
func (c *Coalescer) fire(userID int64, generation uint64) {
	c.mu.Lock()
	pb, ok := c.pending[userID]
	if !ok || pb.generation != generation {
		c.mu.Unlock()
		return
	}
	delete(c.pending, userID)
	batch := Batch{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    pb.chatID,
		Items:     pb.items,
		FlushedAt: time.Now().UTC(),
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.dispatch(batch)
}

func (c *Coalescer) dispatch(batch Batch) {
	defer c.wg.Done()
	defer func() {
		if rv := recover(); rv != nil {
			c.logger.Error(
				fmt.Sprintf("panic processing batch: %v", rv),
				append(
					batchLogAttrs(batch),
					"stack", string(debug.Stack()),
				)...,
			)
		}
	}()
	c.flush(batch)
}

// Stop flushes all pending batches immediately, regardless of their
// remaining window, and blocks until their processing finishes. After
// Stop returns, Submit is a no-op.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.stopped = true

	var batches []Batch
	for userID, pb := range c.pending {
		if pb.timer != nil {
			pb.timer.Stop()
		}
		batches = append(
			batches,
			Batch{
				ID:        uuid.NewString(),
				UserID:    userID,
				ChatID:    pb.chatID,
				Items:     pb.items,
				FlushedAt: time.Now().UTC(),
			},
		)
	}
	c.pending = map[int64]*pendingBatch{}
	c.wg.Add(len(batches))
	c.mu.Unlock()

	if len(batches) > 0 {
		c.logger.Info(
			"flushing pending batches before shutdown",
			"batches", len(batches),
		)
	}
	for _, batch := range batches {
		go c.dispatch(batch)
	}
	c.wg.Wait()
}
