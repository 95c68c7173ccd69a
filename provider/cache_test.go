package provider

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"go-metronome/voice"
)

func testVoice(id string) voice.Voice {
	v, ok := voice.Find(id)
	if !ok {
		v = voice.Voice{ID: id, Pitch: 60, Volume: 1}
	}
	return v
}

func TestCacheLoadsOnce(t *testing.T) {
	rec := NewRecorder()
	c := NewCache(context.Background(), rec)
	v := testVoice("snare-drum")

	for i := 0; i < 5; i++ {
		c.Ensure(v)
	}
	h, err := c.Wait(context.Background(), v)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if h.Voice().ID != v.ID {
		t.Fatalf("handle for %q", h.Voice().ID)
	}
	if got, ok := c.Get(v.ID); !ok || got != h {
		t.Fatal("Get after load failed")
	}
	c.Ensure(v)
	if n := rec.Loads(v.ID); n != 1 {
		t.Fatalf("voice requested %d times, want 1", n)
	}
}

func TestCacheRemembersFailure(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("no such sample")
	rec.FailVoice("claves", boom)
	c := NewCache(context.Background(), rec)
	v := testVoice("claves")

	if _, err := c.Wait(context.Background(), v); errors.Cause(err) != boom {
		t.Fatalf("Wait error = %v", err)
	}
	if _, ok := c.Get(v.ID); ok {
		t.Fatal("failed voice reported as loaded")
	}
	if errors.Cause(c.Err(v.ID)) != boom {
		t.Fatalf("Err = %v", c.Err(v.ID))
	}

	called := make(chan struct{}, 1)
	c.Await(v, func(Handle) { called <- struct{}{} })
	select {
	case <-called:
		t.Fatal("Await callback ran for a failed voice")
	case <-time.After(50 * time.Millisecond):
	}
	if n := rec.Loads(v.ID); n != 1 {
		t.Fatalf("failed voice retried: %d loads", n)
	}

	// only Reset allows a retry
	rec.FailVoice("claves", nil)
	c.Reset()
	if _, err := c.Wait(context.Background(), v); err != nil {
		t.Fatalf("reload after Reset: %v", err)
	}
	if n := rec.Loads(v.ID); n != 2 {
		t.Fatalf("loads after Reset = %d, want 2", n)
	}
}

func TestCacheAwait(t *testing.T) {
	rec := NewRecorder()
	rec.HoldLoads()
	c := NewCache(context.Background(), rec)
	v := testVoice("bass-drum")

	got := make(chan Handle, 2)
	c.Await(v, func(h Handle) { got <- h })
	if _, ok := c.Get(v.ID); ok {
		t.Fatal("voice loaded while held")
	}

	rec.ReleaseLoads()
	select {
	case h := <-got:
		if h.Voice().ID != v.ID {
			t.Fatalf("callback got %q", h.Voice().ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Await callback never ran")
	}

	// already loaded: callback still runs asynchronously
	c.Await(v, func(h Handle) { got <- h })
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("Await on loaded voice never ran")
	}
}

func TestCacheWaitHonoursContext(t *testing.T) {
	rec := NewRecorder()
	rec.HoldLoads()
	defer rec.ReleaseLoads()
	c := NewCache(context.Background(), rec)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx, testVoice("stick")); err != context.DeadlineExceeded {
		t.Fatalf("Wait error = %v", err)
	}
}

func TestVelocity(t *testing.T) {
	tests := []struct {
		vol  float64
		want uint8
	}{
		{0, 0},
		{1e-4 * 0.8, 0},
		{0.5, 64},
		{0.8, 102},
		{1, 127},
		{2, 127},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := Velocity(tt.vol); got != tt.want {
			t.Errorf("Velocity(%v) = %d, want %d", tt.vol, got, tt.want)
		}
	}
}
