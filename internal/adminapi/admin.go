// Package adminapi is msgqd's operational surface: JSON status and
// membership endpoints plus a live WebSocket feed of cc_members events,
// in the same spirit as fakeamps's admin REST API but rebuilt around
// the broker's bus-level concepts (members, groups) instead of a
// protocol-server's topic/SOW/journal state.
package adminapi

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bundy-project/msgq/msgq"
)

// Server serves msgqd's admin endpoints. It only ever calls Broker's
// already-locked public accessors (Members, MembersOf, ConnectionCount),
// so it never needs a lock of its own.
type Server struct {
	broker    *msgq.Broker
	startedAt time.Time
	upgrader  websocket.Upgrader
}

func NewServer(b *msgq.Broker) *Server {
	return &Server{
		broker:    b,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin surface is an operator tool, not a browser-facing
			// public endpoint; any origin is accepted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ListenAndServe blocks serving the admin mux on addr.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/status", s.handleStatus)
	mux.HandleFunc("/admin/members", s.handleMembers)
	mux.HandleFunc("/admin/events", s.handleEvents)
	log.Printf("msgqd: admin API listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	jsonResponse(w, map[string]interface{}{
		"server":      "msgqd",
		"version":     msgq.Version.String(),
		"uptime":      time.Since(s.startedAt).String(),
		"started":     s.startedAt.Format(time.RFC3339),
		"connections": s.broker.ConnectionCount(),
		"socket":      s.broker.SocketPath,
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"num_gc":   m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
		"gomaxprocs": runtime.GOMAXPROCS(0),
	})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	var members []string
	if group == "" {
		members = s.broker.Members()
	} else {
		members = s.broker.MembersOf(group)
	}
	jsonResponse(w, map[string]interface{}{
		"group":   group,
		"members": members,
	})
}

// eventMessage is the JSON shape pushed to each connected WebSocket
// client whenever the admin feed is notified of a membership change.
type eventMessage struct {
	Event  string `json:"event"`
	Client string `json:"client"`
	Group  string `json:"group,omitempty"`
}

// handleEvents upgrades to a WebSocket connection and streams every
// membership event the Feed delivers until the client disconnects.
// Unlike fakeamps's websocket.go (a hand-rolled RFC 6455 framer),
// this uses the gorilla/websocket library directly.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("msgqd: admin events upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.broker.Feed().Subscribe()
	defer s.broker.Feed().Unsubscribe(sub)

	for ev := range sub {
		msg := eventMessage{Event: ev.Type, Client: ev.Client, Group: ev.Group}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
