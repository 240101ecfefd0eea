package speech

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamTranscriber is a realtime STT client for the AssemblyAI v3 streaming
// API. An utterance finalizes after SilenceWindow of transcript inactivity or
// on an explicit Cutoff.
type StreamTranscriber struct {
	apiKey        string
	silenceWindow time.Duration

	conn       *websocket.Conn
	finalizeCh chan string
	audioData  chan []byte
	stopCh     chan struct{}
	mu         sync.RWMutex
	connected  bool

	accMu        sync.Mutex
	latest       string
	committed    string
	silenceTimer *time.Timer

	// emitMu orders every finalizeCh send against the close in Close, so a
	// silence timer that fires during shutdown cannot hit a closed channel.
	emitMu sync.Mutex
	closed bool
}

// NewStreamTranscriber builds a transcriber; silenceWindow <= 0 falls back to
// a conservative default that avoids cutting the candidate mid-sentence.
func NewStreamTranscriber(apiKey string, silenceWindow time.Duration) *StreamTranscriber {
	if silenceWindow <= 0 {
		silenceWindow = 900 * time.Millisecond
	}
	return &StreamTranscriber{
		apiKey:        apiKey,
		silenceWindow: silenceWindow,
		finalizeCh:    make(chan string, 10),
		audioData:     make(chan []byte, 1000),
		stopCh:        make(chan struct{}),
	}
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Finalize yields one completed utterance per candidate turn.
func (s *StreamTranscriber) Finalize() <-chan string { return s.finalizeCh }

// Connect establishes the streaming WebSocket.
func (s *StreamTranscriber) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("transcriber api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {s.apiKey}})
	if err != nil {
		if resp != nil {
			log.Printf("transcriber connect failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("connect transcriber: %w", err)
	}

	s.conn = conn
	s.connected = true
	go s.readMessages()
	go s.writeAudio()
	log.Println("transcriber stream connected")
	return nil
}

// SendPCM16KLE queues candidate audio for the engine. Drops on backpressure
// rather than blocking the caller.
func (s *StreamTranscriber) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("transcriber not connected")
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Println("transcriber audio buffer full, dropping packet")
	}
	return nil
}

// Cutoff finalizes the current utterance immediately.
func (s *StreamTranscriber) Cutoff() {
	s.accMu.Lock()
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
	}
	s.accMu.Unlock()
	s.emitDelta(false)
}

// Close terminates the stream and flushes any uncommitted delta.
func (s *StreamTranscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	s.accMu.Lock()
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	s.emitDelta(true)
	s.emitMu.Lock()
	s.closed = true
	close(s.finalizeCh)
	s.emitMu.Unlock()
	close(s.audioData)
	log.Println("transcriber stream closed")
	return nil
}

func (s *StreamTranscriber) readMessages() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered in transcriber read loop: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("transcriber read error: %v", err)
				return
			}
			s.processMessage(message)
		}
	}
}

func (s *StreamTranscriber) processMessage(message []byte) {
	var base map[string]any
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("transcriber bad message: %v", err)
		return
	}
	switch base["type"] {
	case "Begin":
		log.Printf("transcriber session began")
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" {
			return
		}
		s.accMu.Lock()
		select {
		case <-s.stopCh:
			// Shutting down: never schedule a fresh silence timer.
			s.accMu.Unlock()
			return
		default:
		}
		s.latest = msg.Transcript
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(s.silenceWindow, func() { s.emitDelta(false) })
		} else {
			_ = s.silenceTimer.Stop()
			s.silenceTimer.Reset(s.silenceWindow)
		}
		s.accMu.Unlock()
	case "Termination":
		s.emitDelta(true)
	case "Error":
		var msg errorMessage
		_ = json.Unmarshal(message, &msg)
		log.Printf("transcriber engine error: %s", msg.Error)
	}
}

// emitDelta sends the uncommitted tail of the transcript as one finalized
// utterance. bestEffort paths (shutdown) never block.
func (s *StreamTranscriber) emitDelta(bestEffort bool) {
	s.accMu.Lock()
	delta := strings.TrimSpace(strings.TrimPrefix(s.latest, s.committed))
	s.committed = s.latest
	s.accMu.Unlock()
	if delta == "" {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	if bestEffort {
		select {
		case s.finalizeCh <- delta:
		case <-time.After(200 * time.Millisecond):
			log.Printf("transcriber flush: timed out delivering final delta")
		}
		return
	}
	select {
	case <-s.stopCh:
	case s.finalizeCh <- delta:
	}
}

func (s *StreamTranscriber) writeAudio() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered in transcriber write loop: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case pcm, ok := <-s.audioData:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("transcriber audio write error: %v", err)
				return
			}
		}
	}
}
