package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/campus-rides/internal/models"
)

// Subscribe opens the hosted service's realtime websocket, registers
// interest in ride changes, and delivers matching rows until Close. The
// service pushes at-most-once per change; the feed's poll leg masks gaps.
func (g *RESTGateway) Subscribe(ctx context.Context, f ChangeFilter) (Subscription, error) {
	wsURL := strings.Replace(g.BaseURL, "http", "ws", 1) + "/realtime/v1/ws?apikey=" + g.APIKey
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	join := map[string]any{
		"action": "subscribe",
		"table":  "rides",
	}
	if f.RideID != "" {
		join["filter"] = "id=eq." + f.RideID
	} else if f.RiderID != "" {
		join["filter"] = "rider_id=eq." + f.RiderID
	} else if f.DriverID != "" {
		join["filter"] = "driver_id=eq." + f.DriverID
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime subscribe: %w", err)
	}

	s := &wsSub{conn: conn, filter: f, ch: make(chan Change, 32)}
	go s.readLoop()
	return s, nil
}

type wsSub struct {
	conn   *websocket.Conn
	filter ChangeFilter
	ch     chan Change
	once   sync.Once
}

func (s *wsSub) Changes() <-chan Change { return s.ch }

func (s *wsSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// readLoop decodes pushed rows until the connection drops or Close runs.
// Malformed frames and non-matching rows are skipped, never fatal.
func (s *wsSub) readLoop() {
	defer close(s.ch)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type   string          `json:"type"`
			Record json.RawMessage `json:"record"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type != "insert" && msg.Type != "update" {
			continue
		}
		var ride models.Ride
		if err := json.Unmarshal(msg.Record, &ride); err != nil {
			continue
		}
		if !s.filter.Matches(ride) {
			continue
		}
		select {
		case s.ch <- Change{Kind: msg.Type, Ride: ride}:
		default:
		}
	}
}
