package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(CalendarChanged)

	assert.Equal(t, CalendarChanged, <-ch1)
	assert.Equal(t, CalendarChanged, <-ch2)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()

	b.Publish(CalendarChanged)

	_, open := <-ch
	assert.False(t, open, "cancel closes the channel")

	// Cancelling twice is a no-op.
	cancel()
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber buffer without anyone draining it.
		for i := 0; i < 100; i++ {
			b.Publish(CalendarChanged)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
