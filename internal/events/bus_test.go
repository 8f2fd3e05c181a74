package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus[int]()
	var got []string

	bus.Subscribe(func(v int) { got = append(got, "a") })
	bus.Subscribe(func(v int) { got = append(got, "b") })

	bus.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSubscriptionUnsubscribe(t *testing.T) {
	bus := NewBus[string]()
	var first, second int

	sub := bus.Subscribe(func(string) { first++ })
	bus.Subscribe(func(string) { second++ })

	bus.Publish("x")
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Publish("y")

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, bus.Len())
}

func TestUnsubscribeFromCallback(t *testing.T) {
	bus := NewBus[int]()
	calls := 0

	var sub *Subscription
	sub = bus.Subscribe(func(int) {
		calls++
		sub.Unsubscribe()
	})

	bus.Publish(1)
	bus.Publish(2)
	assert.Equal(t, 1, calls)

	bus.Subscribe(func(int) {})
	bus.Clear()
	assert.Zero(t, bus.Len())
}
