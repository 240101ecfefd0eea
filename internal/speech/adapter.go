package speech

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Adapter wraps a Synthesizer and a Transcriber behind uniform timed calls.
// Every operation takes a caller-supplied timeout; on expiry the underlying
// engine call is canceled and the adapter fails with ErrSpeechTimeout.
type Adapter struct {
	synth       Synthesizer
	tr          Transcriber
	sink        Sink
	interrupter *Interrupter

	synthTimeout time.Duration
	listenFloor  time.Duration

	mu          sync.Mutex
	speakCancel context.CancelFunc
	barged      bool
}

// Options configure the adapter timeouts.
type Options struct {
	SynthTimeout time.Duration // per synthesis call
	ListenFloor  time.Duration // minimum listening window regardless of budget
	// Interrupter, when set, lets sustained candidate speech cut an
	// in-flight synthesis short (barge-in).
	Interrupter *Interrupter
}

// NewAdapter builds an adapter. A nil sink discards audio.
func NewAdapter(synth Synthesizer, tr Transcriber, sink Sink, opts Options) *Adapter {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.SynthTimeout <= 0 {
		opts.SynthTimeout = 20 * time.Second
	}
	if opts.ListenFloor <= 0 {
		opts.ListenFloor = 5 * time.Second
	}
	return &Adapter{synth: synth, tr: tr, sink: sink, interrupter: opts.Interrupter, synthTimeout: opts.SynthTimeout, listenFloor: opts.ListenFloor}
}

// Connect brings up the transcription stream.
func (a *Adapter) Connect() error { return a.tr.Connect() }

// Close tears down the transcription stream.
func (a *Adapter) Close() error { return a.tr.Close() }

// FeedPCM16KLE forwards candidate audio to the transcriber. With an
// interrupter configured, sustained speech also barges in on an in-flight
// synthesis.
func (a *Adapter) FeedPCM16KLE(pcm []byte) error {
	if a.interrupter != nil && a.interrupter.Feed(pcm) {
		a.mu.Lock()
		if a.speakCancel != nil && !a.barged {
			a.barged = true
			a.speakCancel()
			a.interrupter.Reset()
			log.Printf("barge-in: candidate speech cut synthesis short")
		}
		a.mu.Unlock()
	}
	return a.tr.SendPCM16KLE(pcm)
}

// Cutoff forces the in-flight utterance to finalize (explicit end-of-turn
// from the candidate channel).
func (a *Adapter) Cutoff() { a.tr.Cutoff() }

// Speak synthesizes text and streams the audio to the sink. It returns
// ErrSpeechTimeout when the synthesis call outlives its timeout and the
// context error when the caller cancels mid-stream.
func (a *Adapter) Speak(ctx context.Context, text string) error {
	sctx, cancel := context.WithTimeout(ctx, a.synthTimeout)
	a.mu.Lock()
	a.speakCancel = cancel
	a.barged = false
	a.mu.Unlock()
	if a.interrupter != nil {
		a.interrupter.Reset()
	}
	defer func() {
		a.mu.Lock()
		a.speakCancel = nil
		a.mu.Unlock()
		cancel()
	}()

	pcmCh, errCh := a.synth.StreamPCM48k(sctx, text)
	var streamErr error
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) > 0 {
				a.sink.WritePCM(b)
			}
		case e, ok := <-errCh:
			if !ok {
				openErr = false
				continue
			}
			if e != nil && streamErr == nil {
				streamErr = e
			}
		case <-sctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.mu.Lock()
			barged := a.barged
			a.mu.Unlock()
			if barged {
				// The candidate took the turn; the utterance counts as
				// delivered.
				return nil
			}
			return fmt.Errorf("synthesize %q: %w", truncate(text, 32), ErrSpeechTimeout)
		}
	}
	if streamErr != nil {
		return fmt.Errorf("synthesize: %w", streamErr)
	}
	return nil
}

// Listen waits up to window for one finalized utterance. On expiry it cuts
// the turn off, drains any last-moment finalization, and reports
// ErrSpeechTimeout if nothing was captured.
func (a *Adapter) Listen(ctx context.Context, window time.Duration) (string, error) {
	if window < a.listenFloor {
		window = a.listenFloor
	}
	lctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	select {
	case text, ok := <-a.tr.Finalize():
		if !ok {
			return "", fmt.Errorf("transcriber closed")
		}
		return text, nil
	case <-lctx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	// Window expired: force end-of-turn and give the engine a brief moment
	// to flush what it already heard.
	a.tr.Cutoff()
	select {
	case text, ok := <-a.tr.Finalize():
		if ok && text != "" {
			return text, nil
		}
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	log.Printf("listen window %v expired without an utterance", window)
	return "", ErrSpeechTimeout
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
