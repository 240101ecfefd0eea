package speech

import (
	"context"
	"encoding/binary"
	"testing"
	"time"
)

// pcmChunk builds n samples of constant-amplitude PCM16.
func pcmChunk(n int, amplitude int16) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(amplitude))
	}
	return out
}

func TestInterrupter_TriggersOnSustainedSpeech(t *testing.T) {
	d := NewInterrupter()
	loud := pcmChunk(320, 1000) // 20ms at 16kHz, well above the gate

	triggered := false
	for i := 0; i < 20; i++ {
		if d.Feed(loud) {
			triggered = true
			break
		}
	}
	if !triggered {
		t.Fatalf("expected sustained loud audio to trigger")
	}
}

func TestInterrupter_IgnoresSilenceAndBlips(t *testing.T) {
	d := NewInterrupter()
	quiet := pcmChunk(320, 20)
	loud := pcmChunk(320, 1000)

	for i := 0; i < 50; i++ {
		if d.Feed(quiet) {
			t.Fatalf("silence must never trigger")
		}
	}
	// A single loud chunk between silence is a blip, not a turn grab.
	if d.Feed(loud) {
		t.Fatalf("one loud chunk must not trigger")
	}
	for i := 0; i < 10; i++ {
		if d.Feed(quiet) {
			t.Fatalf("silence after a blip must not trigger")
		}
	}
}

func TestInterrupter_ResetClearsAccumulation(t *testing.T) {
	d := NewInterrupter()
	loud := pcmChunk(320, 1000)
	for i := 0; i < 10; i++ {
		d.Feed(loud)
	}
	d.Reset()
	if d.Feed(loud) {
		t.Fatalf("first chunk after reset must not trigger")
	}
}

func TestSpeak_BargeInCutsSynthesisShort(t *testing.T) {
	tr := newFakeTranscriber()
	a := NewAdapter(&fakeSynth{hang: true}, tr, nil, Options{
		SynthTimeout: time.Minute,
		Interrupter:  NewInterrupter(),
	})

	loud := pcmChunk(320, 1000)
	go func() {
		for i := 0; i < 30; i++ {
			_ = a.FeedPCM16KLE(loud)
			time.Sleep(5 * time.Millisecond)
		}
	}()

	start := time.Now()
	if err := a.Speak(context.Background(), "a very long question"); err != nil {
		t.Fatalf("barged speak should count as delivered, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("barge-in did not cut the synthesis short")
	}
}

func TestFeed_WithoutSpeakDoesNotPanic(t *testing.T) {
	tr := newFakeTranscriber()
	a := NewAdapter(&fakeSynth{}, tr, nil, Options{Interrupter: NewInterrupter()})
	loud := pcmChunk(320, 1000)
	for i := 0; i < 30; i++ {
		if err := a.FeedPCM16KLE(loud); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
}
