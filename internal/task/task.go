package task

import (
	"sync"
	"sync/atomic"
	"time"
)

type TaskFunc = func(cancelTask *atomic.Bool)

// TaskHandle controls a background goroutine started with Start. Cancel is
// cooperative: the task polls the flag between units of work.
type TaskHandle struct {
	cancel       atomic.Bool
	taskFinished sync.WaitGroup
}

func Start(taskFunc TaskFunc) *TaskHandle {
	taskHandle := &TaskHandle{}
	taskHandle.taskFinished.Add(1)
	go func() {
		defer taskHandle.taskFinished.Done()
		taskFunc(&taskHandle.cancel)
	}()
	return taskHandle
}

func (th *TaskHandle) IsCancelled() bool {
	return th.cancel.Load()
}

func (th *TaskHandle) Cancel() {
	th.cancel.Store(true)
}

func (th *TaskHandle) Join() {
	th.taskFinished.Wait()
}

func (th *TaskHandle) JoinWithTimeout(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		th.taskFinished.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}

// SleepWithCancel sleeps in small slices so a cancelled task wakes up
// promptly. Returns true if the sleep was cut short by cancellation.
func SleepWithCancel(d time.Duration, cancelTask *atomic.Bool) bool {
	const slice = 250 * time.Millisecond
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cancelTask.Load() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining > slice {
			remaining = slice
		}
		time.Sleep(remaining)
	}
	return cancelTask.Load()
}
