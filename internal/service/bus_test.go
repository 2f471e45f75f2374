package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(b)

	bus.Publish(Event{Resource: "entries", Action: ActionCreated, ID: "e-1"})

	assert.Equal(t, "e-1", (<-a).ID)
	assert.Equal(t, "e-1", (<-b).ID)

	// Unsubscribed channels are closed and receive nothing further.
	bus.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)

	bus.Publish(Event{Resource: "entries", Action: ActionDeleted, ID: "e-2"})
	assert.Equal(t, "e-2", (<-b).ID)
}

func TestEventBusSlowSubscriberDropped(t *testing.T) {
	bus := NewEventBus()
	slow := bus.Subscribe()
	defer bus.Unsubscribe(slow)

	// Fill the buffer and keep publishing; the publisher must never
	// block.
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Resource: "entries", Action: ActionRefreshed})
	}

	drained := 0
	for {
		select {
		case <-slow:
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 16, drained, "only the buffer's worth is retained")
}
