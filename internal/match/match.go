// Package match computes which subscribers of a hub receive a publish.
package match

import (
	"fmt"
	"strings"

	"HubRelay/internal/registry"
)

// Policy names a matching strategy.
type Policy string

const (
	Exact  Policy = "exact"
	Prefix Policy = "prefix"
)

// Matcher decides whether a stored subscription topic matches a published topic.
type Matcher interface {
	Match(subscribed, published string) bool
}

type exactMatcher struct{}

func (exactMatcher) Match(subscribed, published string) bool {
	return subscribed == published
}

// prefixMatcher matches when the published topic starts with the subscribed one, so
// "orders" receives "orders.created" but not "order".
type prefixMatcher struct{}

func (prefixMatcher) Match(subscribed, published string) bool {
	return strings.HasPrefix(published, subscribed)
}

// New returns the matcher for policy.
func New(policy Policy) (Matcher, error) {
	switch policy {
	case Exact:
		return exactMatcher{}, nil
	case Prefix, "":
		return prefixMatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown match policy %q", policy)
	}
}

// Validate checks the bounds of a publish request.
func Validate(topic, message string) error {
	if len(topic) > registry.MaxTopicLen {
		return registry.ErrTopicNameTooLong
	}
	if len(message) > registry.MaxMessageLen {
		return registry.ErrMessageTooLong
	}
	return nil
}

// Recipients returns the matching subscriptions in subscriber-list order. No match
// is not an error.
func Recipients(m Matcher, subs []registry.Subscription, topic string) []registry.Subscription {
	var out []registry.Subscription
	for _, s := range subs {
		if m.Match(s.Topic, topic) {
			out = append(out, s)
		}
	}
	return out
}
