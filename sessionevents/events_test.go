package sessionevents_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-backoffice/sessionevents"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPublishAndListen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := sessionevents.NewBus(zerolog.Nop())
	defer bus.Close()

	var (
		lock     sync.Mutex
		received []sessionevents.Event
	)
	done, err := sessionevents.Listen(ctx, bus, zerolog.Nop(), func(_ context.Context, e sessionevents.Event) error {
		lock.Lock()
		defer lock.Unlock()
		received = append(received, e)
		return nil
	})
	require.NoError(t, err)

	publisher := sessionevents.NewPublisher(bus)
	require.NoError(t, publisher.Publish(ctx, sessionevents.Event{Type: sessionevents.SignedIn, Username: "alice", Tenant: "t1"}))
	require.NoError(t, publisher.Publish(ctx, sessionevents.Event{Type: sessionevents.SignedOut, Reason: "unauthorized"}))

	// Publishing blocks until the listener acks, so both are already delivered.
	lock.Lock()
	require.Len(t, received, 2)
	require.Equal(t, sessionevents.SignedIn, received[0].Type)
	require.Equal(t, "alice", received[0].Username)
	require.False(t, received[0].At.IsZero())
	require.Equal(t, "unauthorized", received[1].Reason)
	lock.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestPublish_WithoutSubscribers(t *testing.T) {
	bus := sessionevents.NewBus(zerolog.Nop())
	defer bus.Close()

	err := sessionevents.NewPublisher(bus).Publish(context.Background(), sessionevents.Event{Type: sessionevents.Refreshed})
	require.NoError(t, err)
}
