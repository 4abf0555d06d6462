package sandbox

import (
	"sync"

	"github.com/dop251/goja"
)

type job func(vm *goja.Runtime)

// jobQueue is the event loop's task queue. Producers never block.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	notify chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{notify: make(chan struct{}, 1)}
}

func (q *jobQueue) push(j job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a job is available or done is closed.
func (q *jobQueue) pop(done <-chan struct{}) (job, bool) {
	for {
		select {
		case <-done:
			return nil, false
		default:
		}

		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-done:
			return nil, false
		}
	}
}
