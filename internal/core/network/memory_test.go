package network

import (
	"testing"
	"time"
)

func TestMemoryPubSubDelivers(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, cancel, err := ps.Subscribe("inbox")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := ps.Publish("inbox", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := ps.Publish("elsewhere", []byte("ignored")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Topic != "inbox" || string(msg.Payload) != "hello" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	select {
	case msg := <-ch:
		t.Fatalf("unexpected extra message %+v", msg)
	default:
	}
}

func TestMemoryPubSubCancelClosesChannel(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, cancel, err := ps.Subscribe("inbox")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if err := ps.Publish("inbox", []byte("x")); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestMemoryPubSubDropsWhenFull(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, cancel, err := ps.Subscribe("inbox")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		if err := ps.Publish("inbox", []byte{byte(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected %d buffered messages, got %d", subscriberBuffer, len(ch))
	}
}

func TestMemoryPubSubClose(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, _, err := ps.Subscribe("inbox")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if err := ps.Publish("inbox", nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, _, err := ps.Subscribe("inbox"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWatermillPubSubDelivers(t *testing.T) {
	ps := NewWatermillPubSub()
	defer ps.Close()

	ch, cancel, err := ps.Subscribe("inbox")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := ps.Publish("inbox", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg.Payload) != "hello" {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestParseAddrs(t *testing.T) {
	addrs, err := ParseAddrs([]string{"/ip4/127.0.0.1/tcp/4001", "", "/ip4/0.0.0.0/udp/4001/quic-v1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addrs, got %d", len(addrs))
	}
	if _, err := ParseAddrs([]string{"not-an-addr"}); err == nil {
		t.Fatal("expected error for invalid multiaddr")
	}
}
