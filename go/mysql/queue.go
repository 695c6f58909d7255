/*
Copyright 2026 The Asyncer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"sync"
)

// requestTask is one queued exchange: an activation that puts its
// request on the wire and a disposal that fails it without activation.
type requestTask struct {
	// activate is invoked exactly once, when the task takes the
	// active slot. It must not block on the task's own consumer.
	activate func()

	// dispose is invoked instead of activate when the queue drains,
	// and never after activate.
	dispose func(err error)
}

// requestQueue serialises concurrent exchanges onto the wire. One task
// holds the active slot at a time; the rest wait in FIFO order. submit
// may be called from any goroutine; run is called by the client's read
// loop on each exchange completion; dispose drains everything with one
// error.
type requestQueue struct {
	mu      sync.Mutex
	active  bool
	pending []*requestTask
	drained error
}

func newRequestQueue() *requestQueue {
	return &requestQueue{}
}

// submit either activates the task immediately (wire idle) or
// enqueues it. After dispose, it fails the task with the drain error.
// Activation order is exactly submission order: the mutex makes
// admission a total order across threads.
func (q *requestQueue) submit(t *requestTask) {
	q.mu.Lock()
	if err := q.drained; err != nil {
		q.mu.Unlock()
		t.dispose(err)
		return
	}
	if q.active {
		q.pending = append(q.pending, t)
		q.mu.Unlock()
		return
	}
	q.active = true
	q.mu.Unlock()
	t.activate()
}

// run releases the active slot and activates the head of the queue,
// if any. Called when the in-flight exchange terminates.
func (q *requestQueue) run() {
	q.mu.Lock()
	if q.drained != nil {
		q.mu.Unlock()
		return
	}
	if len(q.pending) == 0 {
		q.active = false
		q.mu.Unlock()
		return
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()
	t.activate()
}

// dispose drains the queue: every pending task fails with err and
// every later submit fails immediately. The active exchange is not
// touched; the caller terminates it through the response path.
func (q *requestQueue) dispose(err error) {
	q.mu.Lock()
	if q.drained != nil {
		q.mu.Unlock()
		return
	}
	q.drained = err
	tasks := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, t := range tasks {
		t.dispose(err)
	}
}
