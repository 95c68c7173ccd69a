package sequencer

import (
	"bytes"
	"context"
	"testing"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-metronome/pattern"
	"go-metronome/provider"
)

func TestRender(t *testing.T) {
	fires, err := Render(context.Background(), mustPattern(t, "4"), 120, "snare-drum", 2, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := []float64{0, 0.5, 1, 1.5}
	if len(fires) != len(want) {
		t.Fatalf("got %d fires, want %d: %+v", len(fires), len(want), fires)
	}
	for i, f := range fires {
		if f.At != want[i] || f.Pitch != 38 {
			t.Fatalf("fire %d = %+v", i, f)
		}
	}
	// accent on one, half volume elsewhere, scaled by the voice's 0.8
	if fires[0].Volume != 0.8 || fires[1].Volume != 0.4 {
		t.Fatalf("volumes %v %v", fires[0].Volume, fires[1].Volume)
	}
}

func TestRenderMixedVoices(t *testing.T) {
	fires, err := Render(context.Background(), mustPattern(t, "Kick & Hat"), 120, "snare-drum", 1, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(fires) != 4 {
		t.Fatalf("got %d fires", len(fires))
	}
	if fires[0].Voice != "bass-drum" || fires[1].Voice != "closed-hihat" {
		t.Fatalf("voices %s %s", fires[0].Voice, fires[1].Voice)
	}
}

func TestRenderErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Render(ctx, nil, 120, "snare-drum", 1, RenderOptions{}); err != ErrNoPattern {
		t.Fatalf("nil pattern: %v", err)
	}
	if _, err := Render(ctx, mustPattern(t, "1"), 120, "snare-drum", 0, RenderOptions{}); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := Render(ctx, mustPattern(t, "1"), 120, "kazoo", 1, RenderOptions{}); err == nil {
		t.Fatal("expected error for unknown voice")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Render(cancelled, mustPattern(t, "1"), 120, "snare-drum", 10, RenderOptions{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestWriteSMF(t *testing.T) {
	fires, err := Render(context.Background(), mustPattern(t, "4"), 120, "snare-drum", 2, RenderOptions{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// a rest is dropped from the file
	fires = append(fires, provider.Fire{At: 1.75, Pitch: 38, Volume: pattern.RestVolume})

	var buf bytes.Buffer
	if err := WriteSMF(&buf, fires, 120, provider.DrumChannel); err != nil {
		t.Fatalf("WriteSMF: %v", err)
	}

	sm, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(sm.Tracks) != 2 {
		t.Fatalf("got %d tracks", len(sm.Tracks))
	}

	var bpm float64
	for _, ev := range sm.Tracks[0] {
		ev.Message.GetMetaTempo(&bpm)
	}
	if bpm != 120 {
		t.Fatalf("tempo = %v", bpm)
	}

	var ons []uint32
	var tick uint32
	for _, ev := range sm.Tracks[1] {
		tick += ev.Delta
		var ch, key, vel uint8
		if gomidi.Message(ev.Message).GetNoteOn(&ch, &key, &vel) {
			if ch != 9 || key != 38 {
				t.Fatalf("note on ch=%d key=%d", ch, key)
			}
			ons = append(ons, tick)
		}
	}
	want := []uint32{0, PPQ, 2 * PPQ, 3 * PPQ}
	if len(ons) != len(want) {
		t.Fatalf("note ons at %v, want %v", ons, want)
	}
	for i := range want {
		if ons[i] != want[i] {
			t.Fatalf("note ons at %v, want %v", ons, want)
		}
	}

	if err := WriteSMF(&buf, fires, 0, 10); err == nil {
		t.Fatal("expected error for zero tempo")
	}
}
