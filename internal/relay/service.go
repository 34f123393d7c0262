// Package relay runs the hub operations: each call authorizes the caller, applies
// or rejects a registry mutation, and for publishes computes and emits notifications.
package relay

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"HubRelay/internal/auth"
	"HubRelay/internal/match"
	"HubRelay/internal/notify"
	"HubRelay/internal/registry"
)

var log = logging.Logger("relay")

// PublishRequest is one publish into a hub.
type PublishRequest struct {
	Publisher peer.ID
	// Hub identifies the hub by its owner.
	Hub     peer.ID
	Topic   string
	Message string
	// Token is the presented capability, cid.Undef when absent.
	Token cid.Cid
}

// PublishResult reports what a publish matched. Delivery itself is not tracked.
type PublishResult struct {
	Hub        string    `json:"hub"`
	Recipients []peer.ID `json:"recipients"`
}

// Service is the relay core.
type Service struct {
	registry *registry.Registry
	guard    *auth.Guard
	matcher  match.Matcher
	emitter  *notify.Emitter
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(reg *registry.Registry, guard *auth.Guard, matcher match.Matcher, emitter *notify.Emitter, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		guard:    guard,
		matcher:  matcher,
		emitter:  emitter,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateHub(ctx context.Context, owner peer.ID) (*registry.Hub, error) {
	hub, err := s.registry.CreateHub(ctx, owner)
	if err != nil {
		log.Debugw("create hub rejected", "owner", owner, "error", err)
		return nil, err
	}
	log.Infow("hub created", "owner", owner, "address", hub.Address)
	return hub, nil
}

// CloseHub deallocates owner's hub. Only the owner may close it.
func (s *Service) CloseHub(ctx context.Context, caller, owner peer.ID) error {
	hub, err := s.registry.CloseHub(ctx, owner, s.guard.Owner(caller))
	if err != nil {
		log.Debugw("close hub rejected", "caller", caller, "owner", owner, "error", err)
		return err
	}
	log.Infow("hub closed", "owner", owner, "address", hub.Address, "subscriptions", len(hub.Subscriptions))
	return nil
}

func (s *Service) Hub(ctx context.Context, owner peer.ID) (*registry.Hub, error) {
	return s.registry.Hub(ctx, owner)
}

// Subscribe registers subscriber for topic in the hub of publisher. Subscribing the
// same pair twice fails with registry.ErrTopicAlreadySubscribed.
func (s *Service) Subscribe(ctx context.Context, subscriber, publisher peer.ID, topic string) error {
	if subscriber == "" {
		return registry.ErrUnauthorized
	}
	if _, err := s.registry.AddSubscription(ctx, publisher, subscriber, topic); err != nil {
		log.Debugw("subscribe rejected", "subscriber", subscriber, "hub", publisher, "topic", topic, "error", err)
		return err
	}
	log.Debugw("subscribed", "subscriber", subscriber, "hub", publisher, "topic", topic)
	return nil
}

// Unsubscribe removes (subscriber, topic) from the hub of publisher. The subscriber
// and the hub owner may both do this.
func (s *Service) Unsubscribe(ctx context.Context, caller, subscriber, publisher peer.ID, topic string) error {
	if _, err := s.registry.RemoveSubscription(ctx, publisher, subscriber, topic, s.guard.OwnerOr(caller, subscriber)); err != nil {
		log.Debugw("unsubscribe rejected", "caller", caller, "subscriber", subscriber, "hub", publisher, "topic", topic, "error", err)
		return err
	}
	return nil
}

// InitialiseTopics allocates the topic set of caller.
func (s *Service) InitialiseTopics(ctx context.Context, caller peer.ID) (*registry.TopicSet, error) {
	return s.registry.InitialiseTopics(ctx, caller)
}

// DeinitialiseTopics deallocates owner's topic set. Only the owner may do this.
func (s *Service) DeinitialiseTopics(ctx context.Context, caller, owner peer.ID) error {
	_, err := s.registry.DeinitialiseTopics(ctx, owner, s.guard.Owner(caller))
	return err
}

// CreateTopic declares name in owner's topic set.
func (s *Service) CreateTopic(ctx context.Context, caller, owner peer.ID, name string) (*registry.TopicSet, error) {
	set, err := s.registry.AddTopic(ctx, owner, name, s.guard.Owner(caller))
	if err != nil {
		log.Debugw("create topic rejected", "caller", caller, "owner", owner, "topic", name, "error", err)
		return nil, err
	}
	return set, nil
}

// RemoveTopic removes name from owner's topic set.
func (s *Service) RemoveTopic(ctx context.Context, caller, owner peer.ID, name string) (*registry.TopicSet, error) {
	set, err := s.registry.RemoveTopic(ctx, owner, name, s.guard.Owner(caller))
	if err != nil {
		log.Debugw("remove topic rejected", "caller", caller, "owner", owner, "topic", name, "error", err)
		return nil, err
	}
	return set, nil
}

func (s *Service) Topics(ctx context.Context, owner peer.ID) (*registry.TopicSet, error) {
	return s.registry.Topics(ctx, owner)
}

// IssueToken hands the publish capability of owner's hub to its owner.
func (s *Service) IssueToken(ctx context.Context, caller, owner peer.ID) (cid.Cid, error) {
	hub, err := s.registry.Hub(ctx, owner)
	if err != nil {
		return cid.Undef, err
	}
	return s.guard.Issue(caller, hub.Header)
}

// Publish emits one notification per subscriber of the hub whose topic matches.
// Any error means nothing was emitted.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	hub, err := s.registry.Hub(ctx, req.Hub)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Publish(req.Publisher, hub.Header, req.Token); err != nil {
		log.Debugw("publish rejected", "publisher", req.Publisher, "hub", req.Hub, "policy", s.guard.Policy())
		return nil, err
	}
	if err := match.Validate(req.Topic, req.Message); err != nil {
		return nil, err
	}

	matched := match.Recipients(s.matcher, hub.Subscriptions, req.Topic)
	res := &PublishResult{Hub: hub.Address.String(), Recipients: make([]peer.ID, 0, len(matched))}
	at := s.now().UTC()
	events := make([]notify.Event, 0, len(matched))
	for _, sub := range matched {
		res.Recipients = append(res.Recipients, sub.Subscriber)
		events = append(events, notify.NewEvent(res.Hub, req.Publisher, sub.Subscriber, req.Topic, req.Message, at))
	}
	s.emitter.Emit(ctx, events)

	log.Debugw("published", "publisher", req.Publisher, "hub", req.Hub, "topic", req.Topic, "recipients", len(events))
	return res, nil
}
