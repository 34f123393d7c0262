package relayapi

import (
	"time"

	"HubRelay/internal/registry"
)

type subscriptionView struct {
	Subscriber string `json:"subscriber"`
	Topic      string `json:"topic"`
}

type hubView struct {
	Address       string             `json:"address"`
	Owner         string             `json:"owner"`
	CreatedAt     time.Time          `json:"created_at"`
	Subscriptions []subscriptionView `json:"subscriptions"`
}

func newHubView(h *registry.Hub) hubView {
	v := hubView{
		Address:       h.Address.String(),
		Owner:         h.Owner.String(),
		CreatedAt:     h.CreatedAt,
		Subscriptions: make([]subscriptionView, 0, len(h.Subscriptions)),
	}
	for _, s := range h.Subscriptions {
		v.Subscriptions = append(v.Subscriptions, subscriptionView{Subscriber: s.Subscriber.String(), Topic: s.Topic})
	}
	return v
}

type topicSetView struct {
	Address   string    `json:"address"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Topics    []string  `json:"topics"`
}

func newTopicSetView(t *registry.TopicSet) topicSetView {
	return topicSetView{
		Address:   t.Address.String(),
		Owner:     t.Owner.String(),
		CreatedAt: t.CreatedAt,
		Topics:    append([]string{}, t.Topics...),
	}
}
