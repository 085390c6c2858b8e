package threading

import (
	"fmt"
	"runtime"
	"sync"
)

// EntryPoint is the function a Thread runs exactly once.
type EntryPoint func()

// Thread owns at most one native thread at a time. After Join or Detach the
// wrapper is empty again and may start another thread.
//
// The embedded ThreadHandle refers to the running thread and is the zero
// handle while nothing is running.
type Thread struct {
	ThreadHandle

	mu        sync.Mutex
	stackSize uintptr
	done      chan struct{}
}

// NewThread returns an unstarted thread.
func NewThread() *Thread {
	return &Thread{}
}

// StartThread returns a thread already running fn.
func StartThread(fn EntryPoint) *Thread {
	t := NewThread()
	t.Start(fn)
	return t
}

// SetStackSize records the stack size requested for the next Start. It has
// no effect while a thread is running. Go grows thread stacks on demand, so
// the value is a hint that the runtime may exceed.
func (t *Thread) SetStackSize(size uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		logger.Warnf("stack size of running %s not changed", t.ThreadHandle)
		return
	}
	t.stackSize = size
}

// StackSize returns the recorded stack size, 0 meaning the default.
func (t *Thread) StackSize() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stackSize
}

// Handle returns the handle of the running thread.
func (t *Thread) Handle() ThreadHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ThreadHandle
}

// Running reports whether a started thread has not yet been joined or detached.
func (t *Thread) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// Start runs fn on a new native thread. It returns false, and starts nothing,
// when the wrapper already owns a thread. When Start returns true the thread
// id is known and Handle refers to it.
func (t *Thread) Start(fn EntryPoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return false
	}
	done := make(chan struct{})
	started := make(chan int64, 1)
	go func() {
		// Never unlocked: the OS thread exits together with this goroutine
		// instead of returning to the scheduler in an unknown state.
		runtime.LockOSThread()
		id := currentThreadID()
		defer close(done)
		defer names.Remove(id)
		started <- id
		fn()
	}()
	t.ThreadHandle = ThreadHandle{id: <-started}
	t.done = done
	logger.Tracef("%s started", t.ThreadHandle)
	return true
}

// Detach lets the running thread finish on its own. It is a no-op when
// nothing is running.
func (t *Thread) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

// Join blocks until the running thread returns from its entry point. It is a
// no-op when nothing is running. Joining from the thread itself panics.
func (t *Thread) Join() {
	t.mu.Lock()
	done, self := t.done, t.ThreadHandle
	t.mu.Unlock()
	if done == nil {
		return
	}
	if self == GetForCallingThread() {
		panic(fmt.Sprintf("threading: BUG: %s joining itself", self))
	}
	<-done

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == done {
		t.reset()
	}
}

// Close detaches a running thread. It never blocks.
func (t *Thread) Close() error {
	t.Detach()
	return nil
}

func (t *Thread) reset() {
	t.done = nil
	t.ThreadHandle = ThreadHandle{}
}
