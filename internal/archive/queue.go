// Package archive keeps a copy of every deleted delivery request in object
// storage. Deletion in the store is permanent; the archive is write-only
// history kept off the request path by a small worker pool.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/quickreach/backend/internal/models"
)

// Storage persists an archived object under name.
type Storage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// Config controls the concurrency characteristics of the queue.
type Config struct {
	QueueSize     int
	Workers       int
	UploadTimeout time.Duration
}

// Record is the archived form of a deleted request.
type Record struct {
	Request   models.DeliveryRequest `json:"request"`
	DeletedAt time.Time              `json:"deletedAt"`
}

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("archive queue closed")

// Queue uploads deleted requests in the background.
type Queue struct {
	storage Storage
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	jobs    chan Record
	closing chan struct{}
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	once    sync.Once
}

// NewQueue starts cfg.Workers workers writing to storage.
func NewQueue(storage Storage, cfg Config, logger *slog.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		storage: storage,
		logger:  logger,
		timeout: cfg.UploadTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		jobs:    make(chan Record, cfg.QueueSize),
		closing: make(chan struct{}),
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue schedules req for archiving. It blocks while the queue is full
// until ctx is done or the queue shuts down.
func (q *Queue) Enqueue(ctx context.Context, req models.DeliveryRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	record := Record{Request: req, DeletedAt: q.now()}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closing:
		return ErrClosed
	case q.jobs <- record:
		return nil
	}
}

// Shutdown stops accepting work and waits for queued records to be uploaded.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.once.Do(func() {
		close(q.closing)
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for record := range q.jobs {
		if err := q.upload(record); err != nil {
			q.logger.Error("archive deleted request",
				slog.String("request_id", record.Request.ID),
				slog.String("owner_id", record.Request.OwnerID),
				slog.Any("error", err),
			)
		}
	}
}

func (q *Queue) upload(record Record) error {
	if q.storage == nil {
		return errors.New("archive storage not configured")
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	location, err := q.storage.Save(ctx, Key(record.Request), bytes.NewReader(body))
	if err != nil {
		return err
	}
	q.logger.Info("deleted request archived",
		slog.String("request_id", record.Request.ID),
		slog.String("location", location),
	)
	return nil
}

// Key is the object name a deleted request is archived under.
func Key(req models.DeliveryRequest) string {
	return path.Join("deleted", req.OwnerID, req.ID+".json")
}
