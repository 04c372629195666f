package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

// Store defines the interface for checkpoint storage backends
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	List(ctx context.Context, limit int) ([]ThreadSummary, error)
	Delete(ctx context.Context, threadID string) error
	Close() error
}

const reapInterval = 5 * time.Minute

type threadLock struct {
	sem      chan struct{}
	refs     int
	lastUsed time.Time
}

// Manager owns the checkpoint store and serializes work per thread.
// Different threads proceed concurrently.
type Manager struct {
	store   Store
	logger  *telemetry.Logger
	idle    time.Duration
	mu      sync.Mutex
	threads map[string]*threadLock
	done    chan struct{}
	closeMu sync.Once
}

// NewManager creates a new state manager. Unused thread locks are dropped
// after idle; zero disables reaping.
func NewManager(driver, path string, idle time.Duration, logger *telemetry.Logger) (*Manager, error) {
	var store Store
	var err error

	switch driver {
	case "memory", "":
		store = NewMemoryStore()
	case "sqlite":
		store, err = NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported state driver: %s", driver)
	}

	return NewManagerWithStore(store, idle, logger), nil
}

// NewManagerWithStore wraps an existing store.
func NewManagerWithStore(store Store, idle time.Duration, logger *telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	m := &Manager{
		store:   store,
		logger:  logger,
		idle:    idle,
		threads: make(map[string]*threadLock),
		done:    make(chan struct{}),
	}
	if idle > 0 {
		go m.reapLoop()
	}
	return m
}

// Lock acquires the thread lock, waiting until it is free or ctx is done.
// The returned func releases it.
func (m *Manager) Lock(ctx context.Context, threadID string) (func(), error) {
	m.mu.Lock()
	tl, ok := m.threads[threadID]
	if !ok {
		tl = &threadLock{sem: make(chan struct{}, 1)}
		m.threads[threadID] = tl
	}
	tl.refs++
	m.mu.Unlock()

	select {
	case tl.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(threadID, tl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-tl.sem
			m.release(threadID, tl)
		})
	}, nil
}

func (m *Manager) release(threadID string, tl *threadLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl.refs--
	tl.lastUsed = time.Now()
	if m.idle <= 0 && tl.refs == 0 {
		delete(m.threads, threadID)
	}
}

// Load returns the checkpoint of a thread or a NOT_FOUND error.
func (m *Manager) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	cp, err := m.store.Load(ctx, threadID)
	if err != nil {
		return nil, storageErr("failed to load checkpoint", err)
	}
	return cp, nil
}

// Save checkpoints a thread, stamping its timestamps.
func (m *Manager) Save(ctx context.Context, cp *Checkpoint) error {
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if err := m.store.Save(ctx, cp); err != nil {
		return storageErr("failed to save checkpoint", err)
	}
	m.logger.Debug("Checkpoint saved", "thread_id", cp.ThreadID, "messages", len(cp.Messages))
	return nil
}

// List lists stored threads, most recently updated first.
func (m *Manager) List(ctx context.Context, limit int) ([]ThreadSummary, error) {
	threads, err := m.store.List(ctx, limit)
	if err != nil {
		return nil, storageErr("failed to list threads", err)
	}
	return threads, nil
}

// Delete removes a thread under its lock.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	unlock, err := m.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.store.Delete(ctx, threadID); err != nil {
		return storageErr("failed to delete thread", err)
	}
	return nil
}

// Close stops the reaper and closes the store.
func (m *Manager) Close() error {
	m.closeMu.Do(func() { close(m.done) })
	return m.store.Close()
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reap(time.Now())
		}
	}
}

// reap drops lock entries nobody holds or waits on that have been idle
// longer than the configured timeout.
func (m *Manager) reap(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, tl := range m.threads {
		if tl.refs == 0 && now.Sub(tl.lastUsed) > m.idle {
			m.logger.Debug("Reaping idle thread lock", "thread_id", id)
			delete(m.threads, id)
			n++
		}
	}
	return n
}

func threadNotFound(threadID string) error {
	return memErrors.Newf(memErrors.CodeNotFound, "thread %q not found", threadID)
}

func storageErr(msg string, err error) error {
	if memErrors.AsCode(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return memErrors.Wrap(memErrors.CodeStorage, msg, err)
}
