package network

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// WatermillPubSub adapts a watermill publisher/subscriber pair to PubSub. By default
// it runs on watermill's in-memory GoChannel, which lets in-process consumers use
// watermill routers and middleware on relay notifications.
type WatermillPubSub struct {
	ctx    context.Context
	cancel context.CancelFunc
	pub    message.Publisher
	sub    message.Subscriber
	once   sync.Once
}

// NewWatermillPubSub builds the transport on a GoChannel.
func NewWatermillPubSub() *WatermillPubSub {
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: subscriberBuffer},
		watermill.NewStdLogger(false, false),
	)
	return NewWatermillPubSubFrom(goChannel, goChannel)
}

// NewWatermillPubSubFrom wraps any watermill publisher and subscriber.
func NewWatermillPubSubFrom(pub message.Publisher, sub message.Subscriber) *WatermillPubSub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WatermillPubSub{ctx: ctx, cancel: cancel, pub: pub, sub: sub}
}

func (w *WatermillPubSub) Publish(topic string, payload []byte) error {
	if w.ctx.Err() != nil {
		return ErrClosed
	}
	msg := message.NewMessage(watermill.NewUUID(), append([]byte(nil), payload...))
	return w.pub.Publish(topic, msg)
}

func (w *WatermillPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	if w.ctx.Err() != nil {
		return nil, nil, ErrClosed
	}
	subCtx, subCancel := context.WithCancel(w.ctx)
	messages, err := w.sub.Subscribe(subCtx, topic)
	if err != nil {
		subCancel()
		return nil, nil, err
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case wmMsg, ok := <-messages:
				if !ok {
					return
				}
				msg := Message{Topic: topic, Payload: append([]byte(nil), wmMsg.Payload...)}
				// Acked regardless of local delivery: notifications are fire-and-forget.
				wmMsg.Ack()
				select {
				case out <- msg:
				default:
					log.Debugw("dropping message for slow subscriber", "topic", topic, "msg_id", wmMsg.UUID)
				}
			}
		}
	}()
	return out, subCancel, nil
}

func (w *WatermillPubSub) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		if cerr := w.pub.Close(); cerr != nil {
			err = cerr
		}
		if any(w.sub) != any(w.pub) {
			if cerr := w.sub.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
