package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateFeedKeepsLatest(t *testing.T) {
	f := NewStateFeed()
	ch, cancel := f.Subscribe()
	defer cancel()

	assert.False(t, f.Set(Disconnected), "initial state is disconnected")
	for i := 0; i < 20; i++ {
		f.Set(Connecting)
		f.Set(Connected)
	}
	f.Set(Reconnecting)

	var last State
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, Reconnecting, last)
	assert.Equal(t, Reconnecting, f.Get())
}

func TestStateFeedUnsubscribe(t *testing.T) {
	f := NewStateFeed()
	ch, cancel := f.Subscribe()
	cancel()
	f.Set(Connected)
	assert.Len(t, ch, 0)
}

func TestStateText(t *testing.T) {
	b, _ := Reconnecting.MarshalText()
	assert.Equal(t, "reconnecting", string(b))
}

func TestNewUnknownTransport(t *testing.T) {
	_, err := New(Options{Transport: "carrier-pigeon"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)
}
