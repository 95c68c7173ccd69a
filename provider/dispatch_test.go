package provider

import (
	"sync"
	"testing"
	"time"

	"go-metronome/clock"
)

func TestDispatcherRunsInTimeOrder(t *testing.T) {
	wall := clock.NewWall()
	d := NewDispatcher(wall)
	defer d.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	record := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			n := len(order)
			mu.Unlock()
			if n == 4 {
				close(done)
			}
		}
	}

	now := wall.Now()
	d.Schedule(now+0.03, record(3))
	d.Schedule(now+0.01, record(1))
	d.Schedule(now-1, record(0)) // late, runs immediately
	d.Schedule(now+0.02, record(2))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not run all actions")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestDispatcherWaitsForDueTime(t *testing.T) {
	wall := clock.NewWall()
	d := NewDispatcher(wall)
	defer d.Close()

	at := wall.Now() + 0.05
	ran := make(chan float64, 1)
	d.Schedule(at, func() { ran <- wall.Now() })

	select {
	case got := <-ran:
		if got < at {
			t.Fatalf("ran at %v, before due time %v", got, at)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("action never ran")
	}
}

func TestDispatcherCancelAll(t *testing.T) {
	wall := clock.NewWall()
	d := NewDispatcher(wall)
	defer d.Close()

	ran := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		d.Schedule(wall.Now()+0.05, func() { ran <- struct{}{} })
	}
	d.CancelAll()
	if d.Len() != 0 {
		t.Fatalf("Len after CancelAll = %d", d.Len())
	}

	select {
	case <-ran:
		t.Fatal("cancelled action ran")
	case <-time.After(120 * time.Millisecond):
	}
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher(clock.NewWall())
	d.Close()
	d.Close()
	d.Schedule(0, func() { t.Error("ran after Close") })
	time.Sleep(10 * time.Millisecond)
}
