package loop

import "sync"

// queue is the multi-producer work queue behind a Loop. Producers append
// under a mutex from any goroutine; the loop goroutine drains by swapping
// the whole slice out, so each drain takes one lock regardless of how many
// items it carries. Discipline is FIFO: items run in enqueue order.
type queue struct {
	mu    sync.Mutex
	jobs  []Item
	spare []Item // drained buffer, reused to avoid steady-state allocation

	// wake has capacity 1; redundant signals coalesce.
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// enqueue adds an item and wakes the loop. Never blocks the producer.
func (q *queue) enqueue(item Item) {
	q.mu.Lock()
	q.jobs = append(q.jobs, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drain swaps out everything queued at this instant and returns it in
// enqueue order. Items enqueued while the caller executes the returned
// batch land in the next drain. Loop goroutine only.
func (q *queue) drain() []Item {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = q.spare[:0]
	q.spare = jobs
	q.mu.Unlock()
	return jobs
}
