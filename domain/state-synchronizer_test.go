package domain

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	baseline int
	applied  []int
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStateSynchronizer_BasicFlow(t *testing.T) {
	initializer := func(key string, current *counterState) (*counterState, error) {
		return &counterState{baseline: 100}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		current.applied = append(current.applied, msg)
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 16)
	defer s.RemoveAll()

	_, ok := s.GetState("BTC-USDT")
	assert.False(t, ok, "untracked key has no state")

	s.Push("BTC-USDT", 1)
	s.Push("BTC-USDT", 2)
	s.Push("BTC-USDT", 3)

	waitFor(t, time.Second, func() bool {
		status, _ := s.Status("BTC-USDT")
		return status == SyncStatusSynchronized
	})

	state, ok := s.GetState("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, 100, state.baseline)
	assert.Equal(t, []int{1, 2, 3}, state.applied, "messages apply strictly in arrival order")
}

func TestStateSynchronizer_BufferedDuringInit(t *testing.T) {
	release := make(chan struct{})
	initializer := func(key string, current *counterState) (*counterState, error) {
		<-release
		return &counterState{}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		current.applied = append(current.applied, msg)
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 16)
	defer s.RemoveAll()

	// Messages arriving while the baseline fetch is in flight must buffer,
	// not vanish.
	s.Push("k", 1)
	s.Push("k", 2)

	_, ok := s.GetState("k")
	assert.False(t, ok, "no state while initializing")

	close(release)
	waitFor(t, time.Second, func() bool {
		state, ok := s.GetState("k")
		return ok && len(state.applied) == 2
	})
}

func TestStateSynchronizer_SkipMessage(t *testing.T) {
	initializer := func(key string, current *counterState) (*counterState, error) {
		return &counterState{}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		if msg < 0 {
			return current, ErrSkipMessage
		}
		current.applied = append(current.applied, msg)
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 16)
	defer s.RemoveAll()

	s.Push("k", 1)
	s.Push("k", -5)
	s.Push("k", 2)

	waitFor(t, time.Second, func() bool {
		state, ok := s.GetState("k")
		return ok && len(state.applied) == 2
	})

	state, _ := s.GetState("k")
	assert.Equal(t, []int{1, 2}, state.applied, "skipped messages leave no trace")
	status, _ := s.Status("k")
	assert.Equal(t, SyncStatusSynchronized, status, "skipping is not an error")
}

func TestStateSynchronizer_ReducerErrorTriggersResync(t *testing.T) {
	var initCalls atomic.Int32
	initializer := func(key string, current *counterState) (*counterState, error) {
		initCalls.Add(1)
		return &counterState{baseline: int(initCalls.Load())}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		if msg == 666 {
			return current, errors.New("sequence gap")
		}
		current.applied = append(current.applied, msg)
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 16)
	defer s.RemoveAll()

	s.Push("k", 1)
	waitFor(t, time.Second, func() bool {
		_, ok := s.GetState("k")
		return ok
	})

	s.Push("k", 666)
	waitFor(t, 2*time.Second, func() bool {
		return initCalls.Load() >= 2
	})

	waitFor(t, time.Second, func() bool {
		state, ok := s.GetState("k")
		return ok && state.baseline == int(initCalls.Load())
	})
}

func TestStateSynchronizer_InitializerRetries(t *testing.T) {
	var attempts atomic.Int32
	initializer := func(key string, current *counterState) (*counterState, error) {
		if attempts.Add(1) < 3 {
			return nil, fmt.Errorf("snapshot endpoint unavailable")
		}
		return &counterState{}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 16)
	defer s.RemoveAll()

	s.Ensure("k")
	waitFor(t, 5*time.Second, func() bool {
		_, ok := s.GetState("k")
		return ok
	})
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestStateSynchronizer_DropOldestOnOverflow(t *testing.T) {
	release := make(chan struct{})
	initializer := func(key string, current *counterState) (*counterState, error) {
		<-release
		return &counterState{}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		current.applied = append(current.applied, msg)
		return current, nil
	}

	var droppedHook atomic.Int32
	s := NewStateSynchronizer(initializer, reducer, 4)
	s.OnBufferDrop = func(key string) { droppedHook.Add(1) }
	defer s.RemoveAll()

	for i := 1; i <= 10; i++ {
		s.Push("k", i)
	}
	assert.Equal(t, int64(6), s.DroppedCount("k"))
	assert.Equal(t, int32(6), droppedHook.Load())

	close(release)
	waitFor(t, time.Second, func() bool {
		state, ok := s.GetState("k")
		return ok && len(state.applied) == 4
	})

	state, _ := s.GetState("k")
	assert.Equal(t, []int{7, 8, 9, 10}, state.applied, "overflow drops the oldest messages")
}

func TestStateSynchronizer_IndependentKeys(t *testing.T) {
	blockKeyA := make(chan struct{})
	initializer := func(key string, current *counterState) (*counterState, error) {
		if key == "a" {
			<-blockKeyA
		}
		return &counterState{}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		current.applied = append(current.applied, msg)
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 16)
	defer s.RemoveAll()
	defer close(blockKeyA)

	s.Push("a", 1)
	s.Push("b", 2)

	// Key b synchronizes even though key a's initializer never returns.
	waitFor(t, time.Second, func() bool {
		_, ok := s.GetState("b")
		return ok
	})
	_, ok := s.GetState("a")
	assert.False(t, ok)
}

func TestStateSynchronizer_RemoveStateIsIdempotent(t *testing.T) {
	initializer := func(key string, current *counterState) (*counterState, error) {
		return &counterState{}, nil
	}
	reducer := func(current *counterState, msg int) (*counterState, error) {
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 16)

	s.Push("k", 1)
	waitFor(t, time.Second, func() bool {
		_, ok := s.GetState("k")
		return ok
	})

	s.RemoveState("k")
	s.RemoveState("k")

	_, ok := s.GetState("k")
	assert.False(t, ok)

	// Pushing after removal recreates the key from scratch.
	s.Push("k", 2)
	waitFor(t, time.Second, func() bool {
		_, ok := s.GetState("k")
		return ok
	})
	s.RemoveAll()
}

func TestStateSynchronizer_ConcurrentPushers(t *testing.T) {
	initializer := func(key string, current *counterState) (*counterState, error) {
		return &counterState{}, nil
	}
	var total atomic.Int32
	reducer := func(current *counterState, msg int) (*counterState, error) {
		total.Add(1)
		return current, nil
	}

	s := NewStateSynchronizer(initializer, reducer, 4096)
	defer s.RemoveAll()

	wg := sync.WaitGroup{}
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Push("k", i)
			}
		}()
	}
	wg.Wait()

	waitFor(t, 2*time.Second, func() bool {
		return total.Load() == 800 && func() bool {
			status, _ := s.Status("k")
			return status == SyncStatusSynchronized
		}()
	})
	assert.Equal(t, int64(0), s.DroppedCount("k"))
}
