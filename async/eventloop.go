/*
 * MIT License
 *
 * Copyright (c) 2024-2026 Herd Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package async

import (
	goruntime "runtime"

	"go.uber.org/atomic"

	"github.com/herd-io/herd/internal/queue"
	"github.com/herd-io/herd/log"
)

const (
	// idle means there are no tasks to process
	idle int32 = iota
	// busy means the event loop is processing tasks
	busy
)

// taskQueue abstracts the two queue flavors an event loop can run on.
type taskQueue interface {
	Push(task func()) error
	Pop() (func(), bool)
	IsEmpty() bool
	Len() int64
}

// unboundedTasks adapts the lock-free MPSC queue to the taskQueue interface.
type unboundedTasks struct {
	*queue.MpscQueue[func()]
}

func (q unboundedTasks) Push(task func()) error {
	q.MpscQueue.Push(task)
	return nil
}

// boundedTasks adapts the blocking ring buffer to the taskQueue interface.
type boundedTasks struct {
	*queue.BoundedQueue[func()]
}

// eventLoop is the default Context. Producers enqueue tasks from any
// goroutine; a single consumer goroutine, spawned on the idle to busy
// transition, drains them in FIFO order.
type eventLoop struct {
	tasks      taskQueue
	processing *atomic.Int32
	stopped    *atomic.Bool
	logger     log.Logger
}

// enforce compilation error
var _ Context = (*eventLoop)(nil)

func newEventLoop(capacity int, stopped *atomic.Bool, logger log.Logger) *eventLoop {
	var tasks taskQueue = unboundedTasks{queue.NewMpscQueue[func()]()}
	if capacity > 0 {
		tasks = boundedTasks{queue.NewBoundedQueue[func()](capacity)}
	}
	return &eventLoop{
		tasks:      tasks,
		processing: atomic.NewInt32(idle),
		stopped:    stopped,
		logger:     logger,
	}
}

// RunOnContext schedules the given task on the loop. Tasks submitted after
// the owning runtime closed are dropped with a warning.
func (loop *eventLoop) RunOnContext(task func()) {
	if task == nil {
		return
	}
	if loop.stopped.Load() {
		loop.logger.Warn("event loop stopped, dropping task")
		return
	}
	if err := loop.tasks.Push(task); err != nil {
		loop.logger.Warn(err)
		return
	}
	loop.process()
}

// process extracts every task from the loop queue and runs it
func (loop *eventLoop) process() {
	// Only start a processing loop when transitioning from idle -> busy.
	// If another loop is already running (state is busy), exit early.
	if !loop.processing.CompareAndSwap(idle, busy) {
		return
	}

	go func() {
		for {
			if task, ok := loop.tasks.Pop(); ok {
				loop.run(task)
				continue
			}

			// if no more tasks, change busy state to idle
			loop.processing.Store(idle)

			// Check if new tasks were added in the meantime and restart processing
			if !loop.tasks.IsEmpty() && loop.processing.CompareAndSwap(idle, busy) {
				continue
			}
			return
		}
	}()
}

// run executes a single task, shielding the loop from its panics.
func (loop *eventLoop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			loop.logger.Errorf("context task panicked: %v", r)
		}
	}()
	task()
}

// drain blocks until the loop has no queued tasks and its consumer goroutine
// has parked. Callers must have stopped task submission first.
func (loop *eventLoop) drain() {
	// The task queue is single-consumer; the consumer parks only after the
	// queue is observed empty, so once both conditions hold the loop is done.
	for !loop.tasks.IsEmpty() || loop.processing.Load() != idle {
		goruntime.Gosched()
	}
}
