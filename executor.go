package chatbird

import "sync"

// Executor runs tasks one at a time in the order they were posted. A
// ChannelView performs every mutation of its state on its executor.
type Executor interface {
	Post(task func())
}

// ExecutorFunc adapts a function, such as a UI toolkit's "run on main loop"
// hook, to Executor.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Post(task func()) { f(task) }

// serialExecutor drains an unbounded FIFO on a single goroutine. Post never
// blocks, so tasks may post further tasks.
type serialExecutor struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopCh  chan struct{}
	stopped bool
}

func newSerialExecutor() *serialExecutor {
	e := &serialExecutor{
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *serialExecutor) Post(task func()) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, task)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stop drops queued tasks and ends the worker goroutine.
func (e *serialExecutor) Stop() {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		e.queue = nil
		close(e.stopCh)
	}
	e.mu.Unlock()
}

func (e *serialExecutor) run() {
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			if e.stopped || len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			task := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()
			task()
		}
	}
}
