package fetcher

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"rssbot/internal/storage"
)

// Queue orders pending re-fetch tasks by due time, one task per feed
// link at most. Enqueue is single-flight: a link already queued is
// rejected until Next hands it out again.
type Queue struct {
	mu     sync.Mutex
	tasks  taskHeap
	links  map[string]struct{}
	seq    uint64
	wakeup chan struct{}
}

type task struct {
	feed *storage.Feed
	due  time.Time
	seq  uint64 // FIFO tiebreak for equal due times
}

func NewQueue() *Queue {
	return &Queue{
		links:  map[string]struct{}{},
		wakeup: make(chan struct{}, 1),
	}
}

// Enqueue schedules feed for re-fetch after delay. It returns false and
// does nothing when a task for the same link is already queued. An
// insertion wakes any Next waiter so a shorter delay is never missed.
func (q *Queue) Enqueue(feed *storage.Feed, delay time.Duration) bool {
	q.mu.Lock()
	if _, exists := q.links[feed.Link]; exists {
		q.mu.Unlock()
		return false
	}
	q.links[feed.Link] = struct{}{}
	q.seq++
	heap.Push(&q.tasks, &task{feed: feed, due: time.Now().Add(delay), seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until the earliest task is due, removes it and returns its
// feed, freeing the link for re-insertion. When the queue is empty it
// suspends until an Enqueue arrives.
func (q *Queue) Next(ctx context.Context) (*storage.Feed, error) {
	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.tasks) > 0 {
			head := q.tasks[0]
			wait = time.Until(head.due)
			if wait <= 0 {
				heap.Pop(&q.tasks)
				delete(q.links, head.feed.Link)
				q.mu.Unlock()
				return head.feed, nil
			}
		}
		q.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-q.wakeup:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wakeup:
		}
	}
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
