package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectorLocksSerializeSameConnector(t *testing.T) {
	locks := NewConnectorLocks()

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("C1")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, locks.entries)
}

func TestConnectorLocksMultipleIDsDoNotDeadlock(t *testing.T) {
	locks := NewConnectorLocks()
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				locks.Lock("A", "B")()
			}()
			go func() {
				defer wg.Done()
				locks.Lock("B", "A", "B")()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock ordering deadlocked")
	}
}

func TestConnectorLocksIndependentConnectors(t *testing.T) {
	locks := NewConnectorLocks()
	unlock := locks.Lock("C1")
	defer unlock()

	acquired := make(chan struct{})
	go func() {
		locks.Lock("C2")()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on another connector blocked")
	}
}
