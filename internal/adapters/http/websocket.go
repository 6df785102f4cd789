package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/opzones/internal/adapters/nats"
	"github.com/samirrijal/opzones/internal/pkg/metrics"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 2 * wsPingInterval
)

// wsMessage is sent by clients.
type wsMessage struct {
	Action string   `json:"action"` // "status" | "check" | "ping"
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
}

// wsEvent is pushed to clients.
type wsEvent struct {
	Type string `json:"type"` // "snapshot" | "snapshot.refreshed" | "check" | "pong" | "error"
	Data any    `json:"data,omitempty"`
}

type wsSession struct {
	conn *websocket.Conn
	deps *Dependencies
	mu   sync.Mutex
}

func (s *wsSession) send(v wsEvent) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSession) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSession) handle(m wsMessage) wsEvent {
	switch m.Action {
	case "status":
		return wsEvent{Type: "snapshot", Data: s.deps.Zones.Status()}
	case "check":
		if m.Lat == nil || m.Lon == nil || *m.Lat < -90 || *m.Lat > 90 || *m.Lon < -180 || *m.Lon > 180 {
			return wsEvent{Type: "error", Data: "check needs lat within ±90 and lon within ±180"}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		match := s.deps.Matcher.CheckPoint(ctx, *m.Lat, *m.Lon)
		return wsEvent{Type: "check", Data: CheckResponse{
			Latitude:  *m.Lat,
			Longitude: *m.Lon,
			IsInZone:  match.IsInZone,
			ZoneID:    match.ZoneID,
			Method:    match.Method,
			Cache:     s.deps.Zones.Metadata(),
		}}
	case "ping":
		return wsEvent{Type: "pong"}
	default:
		return wsEvent{Type: "error", Data: "unknown action: " + m.Action}
	}
}

// WebSocketHandler relays snapshot refresh events so map clients can
// invalidate cached tiles. The current snapshot status is sent on connect.
// Clients may ask for it again with {"action":"status"} or check a point with
// {"action":"check","lat":..,"lon":..}.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		remoteAddr := c.RemoteAddr().String()
		slog.Debug("ws client connected", "remote", remoteAddr)
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		s := &wsSession{conn: c, deps: deps}
		if err := s.send(wsEvent{Type: "snapshot", Data: deps.Zones.Status()}); err != nil {
			return
		}

		if deps.NATS != nil {
			sub, err := deps.NATS.Subscribe(natsadapter.SubjectSnapshotRefreshed, func(msg *nats.Msg) {
				_ = s.send(wsEvent{Type: "snapshot.refreshed", Data: json.RawMessage(msg.Data)})
			})
			if err != nil {
				slog.Warn("ws subscribe failed", "error", err, "remote", remoteAddr)
				return
			}
			defer func() { _ = sub.Unsubscribe() }()
		}

		// Clients that stop answering pings are dropped.
		_ = c.SetReadDeadline(time.Now().Add(wsReadTimeout))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(wsReadTimeout))
		})

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := s.ping(); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			_ = c.SetReadDeadline(time.Now().Add(wsReadTimeout))

			var m wsMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				_ = s.send(wsEvent{Type: "error", Data: "invalid JSON"})
				continue
			}
			_ = s.send(s.handle(m))
		}

		slog.Debug("ws client disconnected", "remote", remoteAddr)
	}
}
