// Package registry owns the hub and topic-set records and enforces their structural
// invariants on every mutation.
package registry

import (
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Capacity bounds. They fix the prepaid encoded size of every record.
const (
	MaxTopicLen      = 64
	MaxTopics        = 128
	MaxSubscriptions = 64
	MaxMessageLen    = 256
)

// RecordKind tags the record variant stored at an address.
type RecordKind uint8

const (
	RecordHub RecordKind = iota + 1
	RecordTopicSet
)

func (k RecordKind) String() string {
	switch k {
	case RecordHub:
		return "hub"
	case RecordTopicSet:
		return "topic_set"
	default:
		return fmt.Sprintf("record_kind(%d)", uint8(k))
	}
}

// Header holds the fields common to every record. None of them change after creation.
type Header struct {
	Address   cid.Cid   `json:"address"`
	Owner     peer.ID   `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the tagged variant persisted by a Store: *Hub or *TopicSet.
type Record interface {
	Kind() RecordKind
	Head() Header
	Clone() Record
}

// Subscription is a (subscriber, topic) pair held by a hub.
type Subscription struct {
	Subscriber peer.ID `json:"subscriber"`
	Topic      string  `json:"topic"`
}

// Hub is the record owned by a publisher identity holding its subscriber list.
type Hub struct {
	Header
	Subscriptions []Subscription `json:"subscriptions"`
}

func (h *Hub) Kind() RecordKind { return RecordHub }

func (h *Hub) Head() Header { return h.Header }

func (h *Hub) Clone() Record {
	cp := *h
	cp.Subscriptions = append([]Subscription(nil), h.Subscriptions...)
	return &cp
}

func (h *Hub) indexOf(subscriber peer.ID, topic string) int {
	for i, s := range h.Subscriptions {
		if s.Subscriber == subscriber && s.Topic == topic {
			return i
		}
	}
	return -1
}

// AddSubscription appends (subscriber, topic). The hub is untouched on error.
func (h *Hub) AddSubscription(subscriber peer.ID, topic string) error {
	if len(topic) > MaxTopicLen {
		return ErrTopicNameTooLong
	}
	if h.indexOf(subscriber, topic) >= 0 {
		return ErrTopicAlreadySubscribed
	}
	if len(h.Subscriptions) >= MaxSubscriptions {
		return ErrSubscriptionLimitReached
	}
	h.Subscriptions = append(h.Subscriptions, Subscription{Subscriber: subscriber, Topic: topic})
	return nil
}

// RemoveSubscription removes (subscriber, topic), keeping the order of the rest.
func (h *Hub) RemoveSubscription(subscriber peer.ID, topic string) error {
	i := h.indexOf(subscriber, topic)
	if i < 0 {
		return ErrSubscriptionNotFound
	}
	h.Subscriptions = append(h.Subscriptions[:i:i], h.Subscriptions[i+1:]...)
	return nil
}

// TopicSet is the per-owner set of declared topic names, in insertion order.
type TopicSet struct {
	Header
	Topics []string `json:"topics"`
}

func (t *TopicSet) Kind() RecordKind { return RecordTopicSet }

func (t *TopicSet) Head() Header { return t.Header }

func (t *TopicSet) Clone() Record {
	cp := *t
	cp.Topics = append([]string(nil), t.Topics...)
	return &cp
}

// Contains reports whether name is declared.
func (t *TopicSet) Contains(name string) bool {
	return t.indexOf(name) >= 0
}

func (t *TopicSet) indexOf(name string) int {
	for i, n := range t.Topics {
		if n == name {
			return i
		}
	}
	return -1
}

// AddTopic appends name. The set is untouched on error.
func (t *TopicSet) AddTopic(name string) error {
	if len(name) > MaxTopicLen {
		return ErrTopicNameTooLong
	}
	if len(t.Topics) >= MaxTopics {
		return ErrTopicLimitReached
	}
	if t.Contains(name) {
		return ErrTopicAlreadyExists
	}
	t.Topics = append(t.Topics, name)
	return nil
}

// RemoveTopic removes name, keeping the order of the rest.
func (t *TopicSet) RemoveTopic(name string) error {
	i := t.indexOf(name)
	if i < 0 {
		return ErrTopicNotFound
	}
	t.Topics = append(t.Topics[:i:i], t.Topics[i+1:]...)
	return nil
}
