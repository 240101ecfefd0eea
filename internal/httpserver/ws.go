package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// wsControl is the inbound JSON frame sent by the candidate client.
type wsControl struct {
	Type   string `json:"type"` // end_of_turn | pause | resume | abort | bye
	Reason string `json:"reason,omitempty"`
}

// wsEvent is the outbound JSON frame mirroring session progress.
type wsEvent struct {
	Type     string `json:"type"` // phase | question | error
	Phase    string `json:"phase,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Text     string `json:"text,omitempty"`
	FollowUp bool   `json:"follow_up,omitempty"`
	Error    string `json:"error,omitempty"`
}

// candidatePort serializes all writes to one WebSocket connection. Gorilla
// connections support a single concurrent writer, and synthesized audio and
// JSON events arrive from different goroutines.
type candidatePort struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *candidatePort) attach(conn *websocket.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

// WritePCM implements speech.Sink for synthesized 48k audio frames.
func (p *candidatePort) WritePCM(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		log.Printf("ws audio write error: %v", err)
	}
}

func (p *candidatePort) sendEvent(ev wsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return
	}
	if err := p.conn.WriteJSON(ev); err != nil {
		log.Printf("ws event write error: %v", err)
	}
}

// speechBridge fronts the per-session speech stack for the session loop.
// The stack is built when the candidate channel connects; the session does
// not start before that, so calls never race the attach.
type speechBridge struct {
	mu      sync.Mutex
	adapter Speech
	paused  bool
}

func (b *speechBridge) attach(a Speech) {
	b.mu.Lock()
	b.adapter = a
	b.mu.Unlock()
}

func (b *speechBridge) get() Speech {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapter
}

func (b *speechBridge) setPaused(v bool) {
	b.mu.Lock()
	b.paused = v
	b.mu.Unlock()
}

func (b *speechBridge) Speak(ctx context.Context, text string) error {
	a := b.get()
	if a == nil {
		return fmt.Errorf("no candidate channel attached")
	}
	return a.Speak(ctx, text)
}

func (b *speechBridge) Listen(ctx context.Context, window time.Duration) (string, error) {
	a := b.get()
	if a == nil {
		return "", fmt.Errorf("no candidate channel attached")
	}
	return a.Listen(ctx, window)
}

func (b *speechBridge) feed(pcm []byte) error {
	b.mu.Lock()
	a, paused := b.adapter, b.paused
	b.mu.Unlock()
	if a == nil || paused {
		return nil
	}
	return a.FeedPCM16KLE(pcm)
}

func (b *speechBridge) cutoff() {
	if a := b.get(); a != nil {
		a.Cutoff()
	}
}

func (b *speechBridge) close() {
	if a := b.get(); a != nil {
		_ = a.Close()
	}
}

// streamSession upgrades to WebSocket and binds the candidate channel to the
// session. Inbound binary frames are candidate PCM 16k audio; inbound text
// frames are control messages. The interview starts once the channel is live.
func (s *Server) streamSession(c echo.Context) error {
	id := c.Param("id")
	ls := s.lookup(id)
	if ls == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	if ls.started {
		s.mu.Unlock()
		_ = conn.WriteJSON(wsEvent{Type: "error", Error: "stream already attached"})
		return nil
	}
	ls.started = true
	s.mu.Unlock()

	ls.port.attach(conn)
	adapter := s.deps.NewSpeech(ls.port)
	if err := adapter.Connect(); err != nil {
		log.Printf("speech connect failed for session %s: %v", id, err)
		_ = conn.WriteJSON(wsEvent{Type: "error", Error: "speech engine unavailable"})
		return nil
	}
	ls.bridge.attach(adapter)
	defer ls.bridge.close()

	if err := ls.sess.Start(ls.plan, ls.deadline); err != nil {
		log.Printf("session %s start failed: %v", id, err)
		_ = conn.WriteJSON(wsEvent{Type: "error", Error: err.Error()})
		return nil
	}

	// Read loop owns the connection until the client hangs up or the
	// session ends.
	readErr := make(chan error, 1)
	go func() {
		for {
			mt, data, rerr := conn.ReadMessage()
			if rerr != nil {
				readErr <- rerr
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				if ferr := ls.bridge.feed(data); ferr != nil {
					log.Printf("ws audio feed error: %v", ferr)
				}
			case websocket.TextMessage:
				var m wsControl
				if jerr := json.Unmarshal(data, &m); jerr != nil {
					continue
				}
				switch strings.ToLower(m.Type) {
				case "end_of_turn":
					ls.bridge.cutoff()
				case "pause":
					ls.bridge.setPaused(true)
				case "resume":
					ls.bridge.setPaused(false)
				case "abort", "bye":
					reason := m.Reason
					if reason == "" {
						reason = "candidate_hangup"
					}
					ls.sess.Abort(reason)
					return
				}
			}
		}
	}()

	select {
	case rerr := <-readErr:
		if rerr != nil && !websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Printf("ws read error for session %s: %v", id, rerr)
		}
		// A dropped channel mid-interview ends the session.
		ls.sess.Abort("candidate_disconnected")
		<-ls.sess.Done()
	case <-ls.sess.Done():
	}
	return nil
}
