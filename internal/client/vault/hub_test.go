package vault

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_FullSubscriberBlocksInsteadOfDropping(t *testing.T) {
	h := newHub()
	events, cancel := h.subscribe()
	defer cancel()

	total := subscriberBufferSize + 10
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			h.publish(Event{Op: OpModified, Kind: KindFile, Path: fmt.Sprintf("%d.md", i)})
		}
	}()

	// the producer stalls once the buffer is full
	select {
	case <-done:
		t.Fatal("publish returned while the subscriber was full")
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < total; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, fmt.Sprintf("%d.md", i), ev.Path)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	<-done
}

func TestHub_DropsAfterTimeout(t *testing.T) {
	h := newHub()
	h.publishTimeout = 10 * time.Millisecond
	events, cancel := h.subscribe()
	defer cancel()

	for i := 0; i < subscriberBufferSize+1; i++ {
		h.publish(Event{Op: OpCreated, Kind: KindFile, Path: "a.md"})
	}
	assert.Len(t, events, subscriberBufferSize)
}

func TestHub_CancelReleasesBlockedPublish(t *testing.T) {
	h := newHub()
	_, cancel := h.subscribe()

	for i := 0; i < subscriberBufferSize; i++ {
		h.publish(Event{Op: OpCreated, Kind: KindFile, Path: "a.md"})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.publish(Event{Op: OpCreated, Kind: KindFile, Path: "b.md"})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "publish still blocked after cancel")
	}
}
