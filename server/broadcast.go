package server

// Broadcasting to WebSocket clients:
// - routing progress events from the orchestrator
// - periodic server status (memory, goroutines, uptime)

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/guchang/superinbox-sub005/dispatch"
)

const statusBroadcastInterval = 5 * time.Second

// ProgressMessage wraps a routing event for the wire.
type ProgressMessage struct {
	Type      string         `json:"type"`
	Event     dispatch.Event `json:"event"`
	Timestamp int64          `json:"timestamp"`
}

// StatusMessage is the periodic server health frame.
type StatusMessage struct {
	Type          string  `json:"type"`
	Clients       int     `json:"clients"`
	Goroutines    int     `json:"goroutines"`
	MemoryMB      float64 `json:"memory_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Timestamp     int64   `json:"timestamp"`
}

// broadcastMessage sends a message to all connected clients. Returns the
// number of clients that accepted the message (channel not full).
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.sendMsg <- msg:
			sent++
		default:
			// Channel full - skip
		}
	}
	return sent
}

// startProgressBroadcaster subscribes to orchestrator events and relays
// them to every connected observer.
func (s *Server) startProgressBroadcaster() {
	events := s.orchestrator.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			// Unsubscribe first (removes from list), then close.
			// Order matters: closing while still subscribed could panic on send.
			s.orchestrator.Unsubscribe(events)
			close(events)
		}()

		for {
			select {
			case <-s.ctx.Done():
				return
			case ev := <-events:
				s.broadcastMessage(ProgressMessage{
					Type:      "routing_progress",
					Event:     ev,
					Timestamp: time.Now().Unix(),
				})
			}
		}
	}()

	s.log.Infow("Progress broadcaster started")
}

// startStatusBroadcaster periodically broadcasts server status to
// connected clients. Quiet when nobody is listening.
func (s *Server) startStatusBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(statusBroadcastInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.mu.RLock()
				count := len(s.clients)
				s.mu.RUnlock()
				if count == 0 {
					continue
				}
				s.broadcastMessage(s.statusMessage(count))
			}
		}
	}()
}

func (s *Server) statusMessage(clients int) StatusMessage {
	msg := StatusMessage{
		Type:          "server_status",
		Clients:       clients,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Timestamp:     time.Now().Unix(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			msg.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
	}
	return msg
}
