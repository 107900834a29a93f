// Package liveapi implements -live-addr's HTTP + WebSocket live
// exploration progress server (SPEC_FULL.md §6): a fan-out broadcaster
// publishes one event per explored action, any number of WebSocket
// clients may subscribe, and a verdict is published once the
// exploration finishes.
//
// Grounded on the teacher's api/broadcaster.go and api/websocket.go: the
// same run-loop-with-register/unregister/broadcast-channels pattern,
// the same gorilla/websocket upgrade + read/write pump split (a readPump
// only to detect client disconnects and drain pings; all real traffic
// is server-to-client), trimmed to this server's single event stream
// instead of the teacher's per-session subscription filtering, since
// there is exactly one exploration per server instance.
package liveapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one streamed unit of progress: either a per-step depth/tid/
// racist-size tuple, or a final verdict once exploration completes.
type Event struct {
	Kind string `json:"kind"` // "step" or "verdict"

	Depth      int  `json:"depth,omitempty"`
	TID        int  `json:"tid,omitempty"`
	RacistSize int  `json:"racistSize,omitempty"`
	RaceFound  bool `json:"raceFound,omitempty"`

	Verdict  string `json:"verdict,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// Server is an http.Handler serving a health check, and a WebSocket
// endpoint that streams Events published via Publish/PublishVerdict.
type Server struct {
	mux *http.ServeMux

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewServer builds a Server with no subscribers yet.
func NewServer() *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		subscribers: make(map[chan Event]struct{}),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Publish fans out a step event. Its signature matches
// engine.Session.OnProgress exactly so it can be assigned directly:
// sess.OnProgress = srv.Publish.
func (s *Server) Publish(depth, tid, racistSize int, raceFound bool) {
	s.broadcast(Event{Kind: "step", Depth: depth, TID: tid, RacistSize: racistSize, RaceFound: raceFound})
}

// PublishVerdict fans out the final verdict, once an exploration
// completes.
func (s *Server) PublishVerdict(verdict string, exitCode int) {
	s.broadcast(Event{Kind: "verdict", Verdict: verdict, ExitCode: exitCode})
}

func (s *Server) broadcast(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop the event rather than block the driver
		}
	}
}

func (s *Server) subscribe() chan Event {
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Event) {
	s.mu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ch := s.subscribe()
	go s.writePump(conn, ch)
	go s.readPump(conn, ch)
}

// readPump's only job is to detect the client going away; the server
// never expects input on this connection.
func (s *Server) readPump(conn *websocket.Conn, ch chan Event) {
	defer func() {
		s.unsubscribe(ch)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, ch chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
