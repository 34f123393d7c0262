package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"HubRelay/internal/core/capability"
	"HubRelay/internal/core/identity"
)

// Check authorizes an operation against the stored header. It runs inside the
// store's atomic section, so the header it sees is the one the mutation applies to.
type Check func(Header) error

// Registry applies validated mutations to hub and topic-set records.
type Registry struct {
	store Store
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) header(owner peer.ID, namespace string) Header {
	return Header{
		Address:   capability.Address(owner, namespace),
		Owner:     owner,
		CreatedAt: r.now().UTC().Truncate(time.Millisecond),
	}
}

func validIdentity(id peer.ID) error {
	if err := identity.Validate(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return nil
}

func (c Check) mutator() Mutator {
	return func(rec Record) error {
		if c == nil {
			return nil
		}
		return c(rec.Head())
	}
}

// CreateHub allocates the hub for owner.
func (r *Registry) CreateHub(ctx context.Context, owner peer.ID) (*Hub, error) {
	if err := validIdentity(owner); err != nil {
		return nil, err
	}
	hub := &Hub{Header: r.header(owner, capability.NamespaceHub), Subscriptions: []Subscription{}}
	if err := r.store.Create(ctx, hub); err != nil {
		return nil, err
	}
	return hub, nil
}

// Hub returns a copy of owner's hub.
func (r *Registry) Hub(ctx context.Context, owner peer.ID) (*Hub, error) {
	rec, err := r.store.Get(ctx, capability.HubAddress(owner), RecordHub)
	if err != nil {
		return nil, err
	}
	return rec.(*Hub), nil
}

// CloseHub deallocates owner's hub once check accepts it. The address is free for a
// new CreateHub afterwards.
func (r *Registry) CloseHub(ctx context.Context, owner peer.ID, check Check) (*Hub, error) {
	rec, err := r.store.Delete(ctx, capability.HubAddress(owner), RecordHub, check.mutator())
	if err != nil {
		return nil, err
	}
	return rec.(*Hub), nil
}

// AddSubscription registers subscriber for topic in publisher's hub.
func (r *Registry) AddSubscription(ctx context.Context, publisher, subscriber peer.ID, topic string) (*Hub, error) {
	if err := validIdentity(subscriber); err != nil {
		return nil, err
	}
	if len(topic) > MaxTopicLen {
		return nil, ErrTopicNameTooLong
	}
	rec, err := r.store.Update(ctx, capability.HubAddress(publisher), RecordHub, nil, func(rec Record) error {
		return rec.(*Hub).AddSubscription(subscriber, topic)
	})
	if err != nil {
		return nil, err
	}
	return rec.(*Hub), nil
}

// RemoveSubscription drops (subscriber, topic) from publisher's hub once check accepts it.
func (r *Registry) RemoveSubscription(ctx context.Context, publisher, subscriber peer.ID, topic string, check Check) (*Hub, error) {
	rec, err := r.store.Update(ctx, capability.HubAddress(publisher), RecordHub, nil, func(rec Record) error {
		if err := check.mutator()(rec); err != nil {
			return err
		}
		return rec.(*Hub).RemoveSubscription(subscriber, topic)
	})
	if err != nil {
		return nil, err
	}
	return rec.(*Hub), nil
}

// InitialiseTopics allocates owner's topic set.
func (r *Registry) InitialiseTopics(ctx context.Context, owner peer.ID) (*TopicSet, error) {
	if err := validIdentity(owner); err != nil {
		return nil, err
	}
	set := &TopicSet{Header: r.header(owner, capability.NamespaceTopics), Topics: []string{}}
	if err := r.store.Create(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// DeinitialiseTopics deallocates owner's topic set once check accepts it.
func (r *Registry) DeinitialiseTopics(ctx context.Context, owner peer.ID, check Check) (*TopicSet, error) {
	rec, err := r.store.Delete(ctx, capability.TopicsAddress(owner), RecordTopicSet, check.mutator())
	if err != nil {
		return nil, err
	}
	return rec.(*TopicSet), nil
}

// Topics returns a copy of owner's topic set.
func (r *Registry) Topics(ctx context.Context, owner peer.ID) (*TopicSet, error) {
	rec, err := r.store.Get(ctx, capability.TopicsAddress(owner), RecordTopicSet)
	if err != nil {
		return nil, err
	}
	return rec.(*TopicSet), nil
}

// AddTopic declares name in owner's topic set, creating the set on first use.
func (r *Registry) AddTopic(ctx context.Context, owner peer.ID, name string, check Check) (*TopicSet, error) {
	if err := validIdentity(owner); err != nil {
		return nil, err
	}
	fresh := &TopicSet{Header: r.header(owner, capability.NamespaceTopics), Topics: []string{}}
	rec, err := r.store.Update(ctx, fresh.Address, RecordTopicSet, fresh, func(rec Record) error {
		if err := check.mutator()(rec); err != nil {
			return err
		}
		return rec.(*TopicSet).AddTopic(name)
	})
	if err != nil {
		return nil, err
	}
	return rec.(*TopicSet), nil
}

// RemoveTopic removes name from owner's topic set once check accepts it.
func (r *Registry) RemoveTopic(ctx context.Context, owner peer.ID, name string, check Check) (*TopicSet, error) {
	rec, err := r.store.Update(ctx, capability.TopicsAddress(owner), RecordTopicSet, nil, func(rec Record) error {
		if err := check.mutator()(rec); err != nil {
			return err
		}
		return rec.(*TopicSet).RemoveTopic(name)
	})
	if err != nil {
		return nil, err
	}
	return rec.(*TopicSet), nil
}
