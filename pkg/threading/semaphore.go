package threading

// noCopy makes go vet flag copies of structs that embed it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// KernelSemaphore is a counting semaphore backed by a kernel object where the
// host has one. It must not be copied after first use.
//
// Wait resumes after signal interruptions and spurious wakeups until it has
// actually taken a unit.
type KernelSemaphore struct {
	noCopy noCopy
	impl   semImpl
}

// NewKernelSemaphore returns a semaphore with a count of zero.
func NewKernelSemaphore() (*KernelSemaphore, error) {
	impl, err := newSemImpl()
	if err != nil {
		return nil, err
	}
	return &KernelSemaphore{impl: impl}, nil
}

// Post increments the count and wakes one waiter.
func (s *KernelSemaphore) Post() {
	s.impl.post()
}

// Wait blocks until the count is positive, then decrements it.
func (s *KernelSemaphore) Wait() {
	s.impl.wait()
}

// TryWait decrements the count if it is positive and reports whether it did.
func (s *KernelSemaphore) TryWait() bool {
	return s.impl.tryWait()
}

// Close releases the kernel object. No goroutine may be waiting.
func (s *KernelSemaphore) Close() error {
	return s.impl.close()
}
