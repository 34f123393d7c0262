package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HubRelay/internal/core/identity"
	"HubRelay/internal/core/network"
)

func TestEmitterIgnoresSinkFailures(t *testing.T) {
	rec := &Recorder{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("downstream gone") })
	em := NewEmitter(failing, rec, LogSink{})

	events := []Event{
		NewEvent("hub", "p", "s1", "orders", "m1", time.Now()),
		NewEvent("hub", "p", "s2", "orders", "m1", time.Now()),
	}
	em.Emit(context.Background(), events)

	got := rec.Events()
	require.Len(t, got, 2)
	assert.Equal(t, events, got)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestTransportSinkPublishesToInbox(t *testing.T) {
	alice, err := identity.Generate()
	require.NoError(t, err)
	bob, err := identity.Generate()
	require.NoError(t, err)

	ps := network.NewMemoryPubSub()
	defer ps.Close()
	inbox, cancel, err := ps.Subscribe(InboxTopic(bob.ID))
	require.NoError(t, err)
	defer cancel()

	evt := NewEvent("bafk-hub", alice.ID, bob.ID, "orders.created", "hello", time.Now().UTC())
	require.NoError(t, NewTransportSink(ps).Emit(context.Background(), evt))

	select {
	case msg := <-inbox:
		got, err := Decode(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, evt.ID, got.ID)
		assert.Equal(t, alice.ID, got.Publisher)
		assert.Equal(t, bob.ID, got.Subscriber)
		assert.Equal(t, "orders.created", got.Topic)
		assert.Equal(t, "hello", got.Message)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestTransportSinkReportsClosedTransport(t *testing.T) {
	ps := network.NewMemoryPubSub()
	require.NoError(t, ps.Close())

	err := NewTransportSink(ps).Emit(context.Background(), NewEvent("h", "p", "s", "t", "m", time.Now()))
	assert.ErrorIs(t, err, network.ErrClosed)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.Error(t, err)
}
