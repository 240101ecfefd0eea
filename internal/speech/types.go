package speech

import (
	"context"
	"errors"
)

// ErrSpeechTimeout marks a synthesis or transcription call that exceeded its
// caller-supplied timeout. The session treats it as an empty answer, never as
// a hard failure.
var ErrSpeechTimeout = errors.New("speech timeout")

// Synthesizer streams PCM 48kHz mono audio for the given text. The stream is
// produced lazily per call and is not shared across calls.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Transcriber is a streaming STT engine. It accepts PCM 16kHz little-endian
// mono buffers and emits one finalized utterance per detected turn, ended
// either by trailing silence or an explicit Cutoff.
type Transcriber interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	// Finalize yields completed utterances.
	Finalize() <-chan string
	// Cutoff forces the current utterance to finalize immediately.
	Cutoff()
	Close() error
}

// Sink consumes synthesized PCM bytes and delivers them to the candidate
// channel. Implementations should buffer internally and pace delivery.
type Sink interface {
	WritePCM(pcm []byte)
}

// NopSink discards audio; used when no candidate channel is attached.
type NopSink struct{}

func (NopSink) WritePCM(_ []byte) {}
