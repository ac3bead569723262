package domain

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gammazero/deque"
)

var syncLogger = log.New(os.Stdout, "[state-synchronizer] ", log.LstdFlags)

type SyncStatus string

const (
	SyncStatusInitializing SyncStatus = "Initializing"
	SyncStatusSyncing      SyncStatus = "Syncing"
	SyncStatusSynchronized SyncStatus = "Synchronized"
	SyncStatusError        SyncStatus = "Error"
)

const (
	DefaultSyncBufferSize = 1024

	defaultDrainTimeout = 5 * time.Second
	maxInitRetryWait    = 30 * time.Second
)

// Initializer fetches the authoritative baseline for a key. It runs on the
// key's consumer goroutine, never on the inbound-message path. current is the
// previous reconciled state when re-synchronizing after a gap, nil otherwise.
type Initializer[K comparable, S any] func(key K, current *S) (*S, error)

// Reducer folds one incoming message into the reconciled state. Returning
// ErrSkipMessage drops the message; any other error marks the key desynced
// and re-runs the initializer.
type Reducer[M, S any] func(current *S, msg M) (*S, error)

// StateSynchronizer reconciles an asynchronous baseline fetch with a stream
// of incremental messages, independently per key. Each key owns a bounded
// drop-oldest buffer and a single consumer goroutine, so a backlog on one
// key never blocks another.
type StateSynchronizer[K comparable, M, S any] struct {
	initializer Initializer[K, S]
	reducer     Reducer[M, S]
	bufferSize  int

	mu       sync.Mutex
	contexts map[K]*syncContext[M, S]

	// OnBufferDrop, if set, is called once per message dropped on overflow.
	OnBufferDrop func(key K)
}

type syncContext[M, S any] struct {
	mu      sync.Mutex
	status  SyncStatus
	state   *S
	buffer  deque.Deque[M]
	dropped int64
	closed  bool

	wake    chan struct{}
	done    chan struct{}
	drained chan struct{}
}

func NewStateSynchronizer[K comparable, M, S any](
	initializer Initializer[K, S],
	reducer Reducer[M, S],
	bufferSize int,
) *StateSynchronizer[K, M, S] {
	if bufferSize <= 0 {
		bufferSize = DefaultSyncBufferSize
	}
	return &StateSynchronizer[K, M, S]{
		initializer: initializer,
		reducer:     reducer,
		bufferSize:  bufferSize,
		contexts:    make(map[K]*syncContext[M, S]),
	}
}

// Ensure creates the key's context and starts its initializer if the key is
// not yet tracked. It returns immediately.
func (s *StateSynchronizer[K, M, S]) Ensure(key K) {
	s.contextFor(key)
}

// Push enqueues one message for the key, creating its context on first use.
// It never blocks: when the buffer is full the oldest message is dropped.
func (s *StateSynchronizer[K, M, S]) Push(key K, msg M) {
	c := s.contextFor(key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.buffer.Len() >= s.bufferSize {
		c.buffer.PopFront()
		c.dropped++
		if c.dropped == 1 || c.dropped%1000 == 0 {
			syncLogger.Printf("buffer overflow on key=%v, dropped=%d", key, c.dropped)
		}
		if s.OnBufferDrop != nil {
			s.OnBufferDrop(key)
		}
	}
	c.buffer.PushBack(msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// GetState returns the reconciled state for the key. ok is false until the
// key has installed its baseline and drained every buffered message.
func (s *StateSynchronizer[K, M, S]) GetState(key K) (*S, bool) {
	s.mu.Lock()
	c, ok := s.contexts[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != SyncStatusSynchronized || c.state == nil {
		return nil, false
	}
	return c.state, true
}

// Status reports the key's sync status; ok is false for untracked keys.
func (s *StateSynchronizer[K, M, S]) Status(key K) (SyncStatus, bool) {
	s.mu.Lock()
	c, ok := s.contexts[key]
	s.mu.Unlock()
	if !ok {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, true
}

// DroppedCount reports how many messages were lost to buffer overflow.
func (s *StateSynchronizer[K, M, S]) DroppedCount(key K) int64 {
	s.mu.Lock()
	c, ok := s.contexts[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// RemoveState cancels the key's consumer, completes its buffer for writing
// and releases the context after a bounded drain. Idempotent.
func (s *StateSynchronizer[K, M, S]) RemoveState(key K) {
	s.mu.Lock()
	c, ok := s.contexts[key]
	delete(s.contexts, key)
	s.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.buffer.Clear()
	c.mu.Unlock()

	select {
	case <-c.drained:
	case <-time.After(defaultDrainTimeout):
		syncLogger.Printf("drain timeout on key=%v", key)
	}
}

// RemoveAll tears down every tracked key.
func (s *StateSynchronizer[K, M, S]) RemoveAll() {
	s.mu.Lock()
	keys := make([]K, 0, len(s.contexts))
	for key := range s.contexts {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.RemoveState(key)
	}
}

func (s *StateSynchronizer[K, M, S]) contextFor(key K) *syncContext[M, S] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.contexts[key]; ok {
		return c
	}

	c := &syncContext[M, S]{
		status:  SyncStatusInitializing,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	s.contexts[key] = c
	go s.run(key, c)
	return c
}

func (s *StateSynchronizer[K, M, S]) run(key K, c *syncContext[M, S]) {
	defer close(c.drained)

	if !s.initialize(key, c) {
		return
	}

	for {
		if !s.drain(key, c) {
			return
		}
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
	}
}

// drain applies buffered messages strictly in arrival order. It returns
// false when the context was cancelled.
func (s *StateSynchronizer[K, M, S]) drain(key K, c *syncContext[M, S]) bool {
	for {
		select {
		case <-c.done:
			return false
		default:
		}

		c.mu.Lock()
		if c.buffer.Len() == 0 {
			if c.status == SyncStatusSyncing {
				c.status = SyncStatusSynchronized
			}
			c.mu.Unlock()
			return true
		}
		msg := c.buffer.PopFront()
		current := c.state
		c.mu.Unlock()

		next, err := s.safeReduce(current, msg)
		switch {
		case err == nil:
			c.mu.Lock()
			c.state = next
			c.mu.Unlock()
		case errors.Is(err, ErrSkipMessage):
		default:
			syncLogger.Printf("desync on key=%v: %s", key, err)
			c.setStatus(SyncStatusError)
			if !s.initialize(key, c) {
				return false
			}
		}
	}
}

func (s *StateSynchronizer[K, M, S]) safeReduce(current *S, msg M) (next *S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reducer panic: %v", r)
		}
	}()
	return s.reducer(current, msg)
}

// initialize fetches and installs the baseline, retrying with exponential
// backoff. It returns false when the context was cancelled.
func (s *StateSynchronizer[K, M, S]) initialize(key K, c *syncContext[M, S]) bool {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxInitRetryWait

	for {
		c.setStatus(SyncStatusInitializing)

		c.mu.Lock()
		current := c.state
		c.mu.Unlock()

		state, err := s.safeInitialize(key, current)
		if err == nil {
			c.mu.Lock()
			c.state = state
			c.status = SyncStatusSyncing
			c.mu.Unlock()
			return true
		}

		syncLogger.Printf("initializer failed for key=%v: %s", key, err)
		c.setStatus(SyncStatusError)

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = maxInitRetryWait
		}
		select {
		case <-c.done:
			return false
		case <-time.After(wait):
		}
	}
}

func (s *StateSynchronizer[K, M, S]) safeInitialize(key K, current *S) (state *S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initializer panic: %v", r)
		}
	}()
	return s.initializer(key, current)
}

func (c *syncContext[M, S]) setStatus(status SyncStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}
