package command

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hiplane/hipd/internal/eventbus"
	"github.com/hiplane/hipd/internal/hiplog"
)

// AdminStream pushes eventbus notifications (HA state transitions,
// anchor updates, FW_BEX_DONE) to long-lived CLI watchers over
// websocket, alongside the request/reply UDS JSON-RPC socket.
type AdminStream struct {
	bus      eventbus.EventBus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*adminClient
}

type adminClient struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
}

// pushedEvent is the wire form of a notification sent to a watcher.
type pushedEvent struct {
	ID      string      `json:"id"`
	Topic   string      `json:"topic"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload"`
	Sent    string      `json:"sent"`
}

// NewAdminStream builds a stream handler subscribed to the given
// topics on bus. Each topic's events are forwarded to every currently
// connected watcher.
func NewAdminStream(bus eventbus.EventBus, topics []string) (*AdminStream, error) {
	s := &AdminStream{
		bus:     bus,
		clients: make(map[string]*adminClient),
	}
	for _, topic := range topics {
		if err := bus.Subscribe(topic, s.broadcast); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *AdminStream) broadcast(e *eventbus.Event) error {
	data, err := json.Marshal(pushedEvent{
		ID:      uuid.NewString(),
		Topic:   e.Topic,
		Key:     e.Key,
		Payload: e.Payload,
		Sent:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.out <- data:
		default:
			hiplog.GetLogger().Warnf("admin stream client %s backlog full, dropping event", c.id)
		}
	}
	return nil
}

// ServeHTTP upgrades the connection to a websocket and streams
// broadcast events to it until the client disconnects.
func (s *AdminStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hiplog.GetLogger().Warnf("admin stream upgrade failed: %v", err)
		return
	}

	client := &adminClient{id: uuid.NewString(), conn: conn, out: make(chan []byte, 64)}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	hiplog.GetLogger().Infof("admin stream client %s connected", client.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		conn.Close()
		hiplog.GetLogger().Infof("admin stream client %s disconnected", client.id)
	}()

	go s.readLoop(client)
	s.writeLoop(client)
}

// readLoop drains and discards client frames; its only purpose is to
// notice disconnects via a read error, since watchers never send us
// anything after connecting.
func (s *AdminStream) readLoop(client *adminClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			close(client.out)
			return
		}
	}
}

func (s *AdminStream) writeLoop(client *adminClient) {
	for data := range client.out {
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// ClientCount reports the number of currently connected watchers.
func (s *AdminStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
