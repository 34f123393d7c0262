package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HubRelay/internal/auth"
	"HubRelay/internal/core/capability"
	"HubRelay/internal/core/identity"
	"HubRelay/internal/core/network"
	"HubRelay/internal/match"
	"HubRelay/internal/notify"
	"HubRelay/internal/registry"
)

type fixture struct {
	svc      *Service
	recorder *notify.Recorder
	alice    peer.ID
	bob      peer.ID
	carol    peer.ID
}

func newFixture(t *testing.T, policy auth.PublishPolicy, matching match.Policy) *fixture {
	t.Helper()
	m, err := match.New(matching)
	require.NoError(t, err)
	rec := &notify.Recorder{}
	f := &fixture{
		svc:      NewService(registry.New(registry.NewMemoryStore()), auth.NewGuard(policy), m, notify.NewEmitter(rec)),
		recorder: rec,
	}
	for _, id := range []*peer.ID{&f.alice, &f.bob, &f.carol} {
		kp, err := identity.Generate()
		require.NoError(t, err)
		*id = kp.ID
	}
	return f
}

func subscribers(events []notify.Event) []peer.ID {
	out := make([]peer.ID, 0, len(events))
	for _, e := range events {
		out = append(out, e.Subscriber)
	}
	return out
}

func TestPublishPrefixMatch(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"))

	res, err := f.svc.Publish(ctx, PublishRequest{Publisher: f.alice, Hub: f.alice, Topic: "orders.created", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, []peer.ID{f.bob}, res.Recipients)

	events := f.recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, f.alice, events[0].Publisher)
	assert.Equal(t, f.bob, events[0].Subscriber)
	assert.Equal(t, "orders.created", events[0].Topic)
	assert.Equal(t, "m", events[0].Message)
	assert.Equal(t, capability.HubAddress(f.alice).String(), events[0].Hub)

	f.recorder.Reset()
	res, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.alice, Hub: f.alice, Topic: "order", Message: "m"})
	require.NoError(t, err, "no match is not an error")
	assert.Empty(t, res.Recipients)
	assert.Empty(t, f.recorder.Events())
}

func TestPublishExactMatch(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Exact)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"))
	require.NoError(t, f.svc.Subscribe(ctx, f.carol, f.alice, "orders.created"))

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.bob, Hub: f.alice, Topic: "orders.created", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, []peer.ID{f.carol}, subscribers(f.recorder.Events()))
}

func TestPublishOrderFollowsSubscriberList(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.carol, f.alice, "orders"))
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders.created"))
	require.NoError(t, f.svc.Subscribe(ctx, f.alice, f.alice, ""))

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.bob, Hub: f.alice, Topic: "orders.created.eu", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, []peer.ID{f.carol, f.bob, f.alice}, subscribers(f.recorder.Events()))
}

func TestPublishMessageTooLongEmitsNothing(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"))

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.alice, Hub: f.alice, Topic: "orders", Message: strings.Repeat("m", registry.MaxMessageLen+1)})
	assert.ErrorIs(t, err, registry.ErrMessageTooLong)
	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.alice, Hub: f.alice, Topic: strings.Repeat("o", registry.MaxTopicLen+1), Message: "m"})
	assert.ErrorIs(t, err, registry.ErrTopicNameTooLong)
	assert.Empty(t, f.recorder.Events())
}

func TestPublishUnknownHub(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	_, err := f.svc.Publish(context.Background(), PublishRequest{Publisher: f.alice, Hub: f.bob, Topic: "t", Message: "m"})
	assert.ErrorIs(t, err, registry.ErrRecordNotFound)
}

func TestPublishOwnerPolicy(t *testing.T) {
	f := newFixture(t, auth.PublishOwner, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"))

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.bob, Hub: f.alice, Topic: "orders", Message: "m"})
	assert.ErrorIs(t, err, registry.ErrUnauthorized)
	assert.Empty(t, f.recorder.Events())

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.alice, Hub: f.alice, Topic: "orders", Message: "m"})
	require.NoError(t, err)
	assert.Len(t, f.recorder.Events(), 1)
}

func TestPublishCapabilityPolicy(t *testing.T) {
	f := newFixture(t, auth.PublishCapability, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.carol, f.alice, "orders"))

	_, err = f.svc.IssueToken(ctx, f.bob, f.alice)
	assert.ErrorIs(t, err, registry.ErrUnauthorized)
	token, err := f.svc.IssueToken(ctx, f.alice, f.alice)
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.bob, Hub: f.alice, Topic: "orders", Message: "m"})
	assert.ErrorIs(t, err, registry.ErrUnauthorized)
	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.bob, Hub: f.alice, Topic: "orders", Message: "m", Token: capability.HubAddress(f.alice)})
	assert.ErrorIs(t, err, registry.ErrUnauthorized)

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.bob, Hub: f.alice, Topic: "orders", Message: "m", Token: token})
	require.NoError(t, err)
	assert.Equal(t, []peer.ID{f.carol}, subscribers(f.recorder.Events()))
}

func TestCloseHubAndRecreate(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"))

	assert.ErrorIs(t, f.svc.CloseHub(ctx, f.bob, f.alice), registry.ErrUnauthorized)
	_, err = f.svc.CreateHub(ctx, f.alice)
	assert.ErrorIs(t, err, registry.ErrAlreadyExists)

	require.NoError(t, f.svc.CloseHub(ctx, f.alice, f.alice))
	_, err = f.svc.Hub(ctx, f.alice)
	assert.ErrorIs(t, err, registry.ErrRecordNotFound)

	hub, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, hub.Subscriptions, "a recreated hub starts empty")
}

func TestSubscribeTwiceIsRejected(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"))
	assert.ErrorIs(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"), registry.ErrTopicAlreadySubscribed)

	hub, err := f.svc.Hub(ctx, f.alice)
	require.NoError(t, err)
	assert.Len(t, hub.Subscriptions, 1)

	_, err = f.svc.Publish(ctx, PublishRequest{Publisher: f.alice, Hub: f.alice, Topic: "orders", Message: "m"})
	require.NoError(t, err)
	assert.Len(t, f.recorder.Events(), 1)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateHub(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.Subscribe(ctx, f.bob, f.alice, "orders"))
	require.NoError(t, f.svc.Subscribe(ctx, f.carol, f.alice, "orders"))

	assert.ErrorIs(t, f.svc.Unsubscribe(ctx, f.carol, f.bob, f.alice, "orders"), registry.ErrUnauthorized)
	require.NoError(t, f.svc.Unsubscribe(ctx, f.bob, f.bob, f.alice, "orders"))
	require.NoError(t, f.svc.Unsubscribe(ctx, f.alice, f.carol, f.alice, "orders"))
	assert.ErrorIs(t, f.svc.Unsubscribe(ctx, f.bob, f.bob, f.alice, "orders"), registry.ErrSubscriptionNotFound)

	hub, err := f.svc.Hub(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, hub.Subscriptions)
}

func TestTopicOperationsAreOwnerOnly(t *testing.T) {
	f := newFixture(t, auth.PublishOpen, match.Prefix)
	ctx := context.Background()

	_, err := f.svc.CreateTopic(ctx, f.bob, f.alice, "orders")
	assert.ErrorIs(t, err, registry.ErrUnauthorized)
	_, err = f.svc.Topics(ctx, f.alice)
	assert.ErrorIs(t, err, registry.ErrRecordNotFound, "a rejected first use must not create the set")

	set, err := f.svc.CreateTopic(ctx, f.alice, f.alice, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, set.Topics)

	_, err = f.svc.RemoveTopic(ctx, f.bob, f.alice, "orders")
	assert.ErrorIs(t, err, registry.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.DeinitialiseTopics(ctx, f.bob, f.alice), registry.ErrUnauthorized)

	_, err = f.svc.RemoveTopic(ctx, f.alice, f.alice, "orders")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeinitialiseTopics(ctx, f.alice, f.alice))

	_, err = f.svc.InitialiseTopics(ctx, f.alice)
	require.NoError(t, err)
	_, err = f.svc.InitialiseTopics(ctx, f.alice)
	assert.ErrorIs(t, err, registry.ErrAlreadyExists)
}

func TestPublishEventTimestamp(t *testing.T) {
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	m, err := match.New(match.Prefix)
	require.NoError(t, err)
	rec := &notify.Recorder{}
	svc := NewService(registry.New(registry.NewMemoryStore()), auth.NewGuard(auth.PublishOpen), m, notify.NewEmitter(rec),
		WithClock(func() time.Time { return at }))

	alice, err := identity.Generate()
	require.NoError(t, err)
	ctx := context.Background()
	_, err = svc.CreateHub(ctx, alice.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Subscribe(ctx, alice.ID, alice.ID, "t"))

	_, err = svc.Publish(ctx, PublishRequest{Publisher: alice.ID, Hub: alice.ID, Topic: "t", Message: "m", Token: cid.Undef})
	require.NoError(t, err)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, at, rec.Events()[0].At)
}

func TestPublishOverTransport(t *testing.T) {
	ps := network.NewMemoryPubSub()
	defer ps.Close()
	m, err := match.New(match.Prefix)
	require.NoError(t, err)
	svc := NewService(registry.New(registry.NewMemoryStore()), auth.NewGuard(auth.PublishOpen), m,
		notify.NewEmitter(notify.NewTransportSink(ps)))

	alice, err := identity.Generate()
	require.NoError(t, err)
	bob, err := identity.Generate()
	require.NoError(t, err)
	ctx := context.Background()

	inbox, cancel, err := ps.Subscribe(notify.InboxTopic(bob.ID))
	require.NoError(t, err)
	defer cancel()

	_, err = svc.CreateHub(ctx, alice.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Subscribe(ctx, bob.ID, alice.ID, "/topic_1"))
	_, err = svc.Publish(ctx, PublishRequest{Publisher: alice.ID, Hub: alice.ID, Topic: "/topic_1", Message: "Hello, Bob!"})
	require.NoError(t, err)

	select {
	case msg := <-inbox:
		evt, err := notify.Decode(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, "Hello, Bob!", evt.Message)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}
