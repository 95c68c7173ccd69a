package provider

import (
	"container/heap"
	"runtime"
	"sync"
	"time"
)

// WallTimer maps reference-clock seconds to wall time.
type WallTimer interface {
	Time(t float64) time.Time
}

type pending struct {
	at  float64
	seq uint64
	fn  func()
}

type pendingQueue []pending

func (q pendingQueue) Len() int { return len(q) }
func (q pendingQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q pendingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pendingQueue) Push(x any)   { *q = append(*q, x.(pending)) }
func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// Dispatcher runs actions at reference-clock times by sleeping on the wall
// clock. Actions scheduled for the past run immediately, in time order.
type Dispatcher struct {
	wall WallTimer

	mu     sync.Mutex
	queue  pendingQueue
	seq    uint64
	closed bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewDispatcher(wall WallTimer) *Dispatcher {
	d := &Dispatcher{
		wall:   wall,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go d.loop()
	return d
}

// Schedule queues fn to run at reference time at.
func (d *Dispatcher) Schedule(at float64, fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.seq++
	heap.Push(&d.queue, pending{at: at, seq: d.seq, fn: fn})
	d.mu.Unlock()
	d.interrupt()
}

// CancelAll drops every pending action.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	d.queue = nil
	d.mu.Unlock()
	d.interrupt()
}

// Len returns the number of pending actions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops the dispatch loop and waits for it to exit. Pending actions
// are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh
}

// interrupt signals the loop to recalculate (queue changed)
func (d *Dispatcher) interrupt() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.doneCh)

	for {
		d.mu.Lock()
		var next *pending
		if len(d.queue) > 0 {
			p := d.queue[0]
			next = &p
		}
		d.mu.Unlock()

		if next == nil {
			select {
			case <-d.stopCh:
				return
			case <-d.wake:
			}
			continue
		}

		if wait := time.Until(d.wall.Time(next.at)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-d.stopCh:
				timer.Stop()
				return
			case <-d.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		d.runDue()
	}
}

// runDue pops and runs every action whose time has come.
func (d *Dispatcher) runDue() {
	now := time.Now()
	var due []func()
	d.mu.Lock()
	for len(d.queue) > 0 && !d.wall.Time(d.queue[0].at).After(now) {
		due = append(due, heap.Pop(&d.queue).(pending).fn)
	}
	d.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}
