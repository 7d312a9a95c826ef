package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusBrokerPublishWakesSubscribers(t *testing.T) {
	b := NewStatusBroker()
	a, cancelA := b.Subscribe("order-1")
	defer cancelA()
	c, cancelC := b.Subscribe("order-1")
	defer cancelC()
	other, cancelOther := b.Subscribe("order-2")
	defer cancelOther()

	b.Publish("order-1")
	b.Publish("order-1") // coalesced

	assert.Len(t, a, 1)
	assert.Len(t, c, 1)
	assert.Len(t, other, 0)
}

func TestStatusBrokerCancel(t *testing.T) {
	b := NewStatusBroker()
	ch, cancel := b.Subscribe("order-1")
	assert.Equal(t, 1, b.subscribers("order-1"))

	cancel()
	cancel()
	assert.Equal(t, 0, b.subscribers("order-1"))

	b.Publish("order-1")
	assert.Len(t, ch, 0)
}
