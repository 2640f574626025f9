// ABOUTME: Tests for the scoped read/write lock
// ABOUTME: Verifies shared readers, exclusive writers and release on panic

package subsystem

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRWLock_ConcurrentReaders(t *testing.T) {
	var lock RWLock
	const readers = 8

	var inside sync.WaitGroup
	inside.Add(readers)
	allIn := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(readers)

	for i := 0; i < readers; i++ {
		go func() {
			defer finished.Done()
			lock.ReadLocked(func() {
				inside.Done()
				// Every reader must be able to get here while the others hold the lock
				<-allIn
			})
		}()
	}

	waitCh := make(chan struct{})
	go func() {
		inside.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("readers blocked each other")
	}
	close(allIn)
	finished.Wait()
}

func TestRWLock_WriterWaitsForReaders(t *testing.T) {
	var lock RWLock
	release := make(chan struct{})
	readerIn := make(chan struct{})

	go lock.ReadLocked(func() {
		close(readerIn)
		<-release
	})
	<-readerIn

	var wrote atomic.Bool
	writerDone := make(chan struct{})
	go func() {
		lock.WriteLocked(func() { wrote.Store(true) })
		close(writerDone)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, wrote.Load(), "writer ran while a reader held the lock")

	close(release)
	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired the lock")
	}
	assert.True(t, wrote.Load())
}

func TestRWLock_WriterExcludesReaders(t *testing.T) {
	var lock RWLock
	release := make(chan struct{})
	writerIn := make(chan struct{})

	go lock.WriteLocked(func() {
		close(writerIn)
		<-release
	})
	<-writerIn

	var read atomic.Bool
	readerDone := make(chan struct{})
	go func() {
		lock.ReadLocked(func() { read.Store(true) })
		close(readerDone)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, read.Load())

	close(release)
	<-readerDone
	assert.True(t, read.Load())
}

func TestRWLock_ReleasedOnPanic(t *testing.T) {
	var lock RWLock

	func() {
		defer func() { _ = recover() }()
		lock.WriteLocked(func() { panic("boom") })
	}()

	done := make(chan struct{})
	go func() {
		lock.WriteLocked(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock leaked after panic")
	}
}
