package api

// Semaphore is a counting semaphore. Wait blocks until the count is positive
// and decrements it; TryWait does the same without blocking.
// threading.KernelSemaphore is the host implementation.
type Semaphore interface {
	Post()
	Wait()
	TryWait() bool
}
