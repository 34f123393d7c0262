// Package network carries relay notifications to listeners outside the process.
package network

import (
	"errors"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("network")

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("transport closed")

// subscriberBuffer is the per-subscription channel depth. Messages beyond it are
// dropped rather than blocking publishers.
const subscriberBuffer = 64

// Message is the transport envelope used by the runtime.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	// Subscribe returns a channel of messages for topic and a cancel func that
	// releases the subscription and closes the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}
