package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewInMemoryEventBus(4, 16)
	defer bus.Close()

	received := make(chan *Event, 1)
	require.NoError(t, bus.Subscribe("ha.established", func(e *Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, bus.Publish(&Event{Topic: "ha.established", Key: "peer-hit", Payload: "ok"}))

	select {
	case e := <-received:
		require.Equal(t, "ha.established", e.Topic)
		require.Equal(t, "ok", e.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishWithoutSubscriberIsNoop(t *testing.T) {
	bus := NewInMemoryEventBus(2, 4)
	defer bus.Close()
	require.NoError(t, bus.Publish(&Event{Topic: "unregistered", Key: "x"}))
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := NewInMemoryEventBus(2, 4)
	require.NoError(t, bus.Close())
	err := bus.Publish(&Event{Topic: "t", Key: "k"})
	require.Error(t, err)
}

func TestSamePartitionKeyOrdersDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(1, 16)
	defer bus.Close()

	var seen []int
	done := make(chan struct{})
	require.NoError(t, bus.Subscribe("seq", func(e *Event) error {
		seen = append(seen, e.Payload.(int))
		if len(seen) == 3 {
			close(done)
		}
		return nil
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(&Event{Topic: "seq", Key: "same-hit", Payload: i}))
	}

	select {
	case <-done:
		require.Equal(t, []int{0, 1, 2}, seen)
	case <-time.After(time.Second):
		t.Fatal("events not delivered in order")
	}
}
