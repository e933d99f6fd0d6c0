package command

import (
	"testing"
	"time"

	"github.com/hiplane/hipd/internal/eventbus"
	"github.com/stretchr/testify/require"
)

func TestAdminStreamBroadcastsToConnectedClients(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus(2, 8)
	defer bus.Close()

	s, err := NewAdminStream(bus, []string{"ha.established"})
	require.NoError(t, err)

	client := &adminClient{id: "test-client", out: make(chan []byte, 4)}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	require.NoError(t, bus.Publish(&eventbus.Event{
		Topic:   "ha.established",
		Key:     "peer-hit",
		Payload: map[string]string{"state": "ESTABLISHED"},
	}))

	select {
	case data := <-client.out:
		require.Contains(t, string(data), "ha.established")
	case <-time.After(time.Second):
		t.Fatal("event not broadcast")
	}
}

func TestAdminStreamClientCount(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus(1, 4)
	defer bus.Close()

	s, err := NewAdminStream(bus, nil)
	require.NoError(t, err)
	require.Equal(t, 0, s.ClientCount())

	s.mu.Lock()
	s.clients["a"] = &adminClient{id: "a", out: make(chan []byte, 1)}
	s.mu.Unlock()
	require.Equal(t, 1, s.ClientCount())
}
