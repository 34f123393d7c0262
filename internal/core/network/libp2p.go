package network

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

// DefaultListenAddr is used when no listen address is configured.
const DefaultListenAddr = "/ip4/0.0.0.0/tcp/0"

// Libp2pOptions configures the libp2p transport.
type Libp2pOptions struct {
	ListenAddrs []string
	Bootstrap   []string
	Rendezvous  string
	EnableMDNS  bool
	// Key is the node identity. A random one is generated when nil.
	Key crypto.PrivKey
}

// Libp2pPubSub publishes relay notifications over GossipSub so that subscribers on
// other machines can follow their inbox topics.
type Libp2pPubSub struct {
	ctx    context.Context
	cancel context.CancelFunc

	host host.Host
	ps   *pubsub.PubSub
	mdns mdns.Service

	mu     sync.Mutex
	topics map[string]*joinedTopic
}

// joinedTopic counts local subscriptions and in-flight publishes. A topic is left once
// the count drops to zero, so inbox topics the node only publishes to do not pile up.
type joinedTopic struct {
	topic *pubsub.Topic
	refs  int
}

// ParseAddrs converts textual multiaddrs, skipping blanks.
func ParseAddrs(raw []string) ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid multiaddr %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func NewLibp2pPubSub(parent context.Context, opts Libp2pOptions) (*Libp2pPubSub, error) {
	listenAddrs, err := ParseAddrs(opts.ListenAddrs)
	if err != nil {
		return nil, err
	}
	if len(listenAddrs) == 0 {
		listenAddrs = append(listenAddrs, ma.StringCast(DefaultListenAddr))
	}

	hostOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.Key != nil {
		hostOpts = append(hostOpts, libp2p.Identity(opts.Key))
	}
	h, err := libp2p.New(hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithMessageSignaturePolicy(pubsub.StrictSign))
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	p := &Libp2pPubSub{
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		ps:     ps,
		topics: make(map[string]*joinedTopic),
	}

	if opts.EnableMDNS {
		p.mdns = mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{ctx: ctx, host: h})
		if err := p.mdns.Start(); err != nil {
			log.Warnf("mdns start error: %v", err)
			p.mdns = nil
		}
	}
	p.connectBootstrap(opts.Bootstrap)
	return p, nil
}

func (p *Libp2pPubSub) connectBootstrap(raw []string) {
	for _, s := range raw {
		if s == "" {
			continue
		}
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			log.Warnf("skip bootstrap addr %q: %v", s, err)
			continue
		}
		if err := p.host.Connect(p.ctx, *info); err != nil {
			log.Warnf("bootstrap connect failed %s: %v", info.ID, err)
			continue
		}
		log.Infof("connected bootstrap peer %s", info.ID)
	}
}

func (p *Libp2pPubSub) Publish(topic string, payload []byte) error {
	t, err := p.acquire(topic)
	if err != nil {
		return err
	}
	defer p.release(topic)
	return t.Publish(p.ctx, payload)
}

func (p *Libp2pPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	t, err := p.acquire(topic)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		p.release(topic)
		return nil, nil, err
	}

	out := make(chan Message, subscriberBuffer)
	subCtx, subCancel := context.WithCancel(p.ctx)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			select {
			case out <- Message{Topic: topic, Payload: append([]byte(nil), msg.Data...)}:
			default:
				log.Debugw("dropping message for slow subscriber", "topic", topic, "from", msg.ReceivedFrom)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			subCancel()
			sub.Cancel()
			p.release(topic)
		})
	}
	return out, cancel, nil
}

func (p *Libp2pPubSub) Close() error {
	p.cancel()
	if p.mdns != nil {
		_ = p.mdns.Close()
	}
	p.mu.Lock()
	for name, jt := range p.topics {
		_ = jt.topic.Close()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	return p.host.Close()
}

// PeerID is the node identity on the libp2p network.
func (p *Libp2pPubSub) PeerID() peer.ID {
	return p.host.ID()
}

// ListenAddrs returns dialable addresses including the /p2p component.
func (p *Libp2pPubSub) ListenAddrs() []string {
	out := make([]string, 0, len(p.host.Addrs()))
	for _, addr := range p.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), p.host.ID().String()))
	}
	return out
}

// ConnectedPeers lists the peer IDs this node currently has connections to.
func (p *Libp2pPubSub) ConnectedPeers() []string {
	peers := p.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

func (p *Libp2pPubSub) acquire(name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if jt, ok := p.topics[name]; ok {
		jt.refs++
		return jt.topic, nil
	}
	t, err := p.ps.Join(name)
	if err != nil {
		return nil, err
	}
	p.topics[name] = &joinedTopic{topic: t, refs: 1}
	return t, nil
}

func (p *Libp2pPubSub) release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	jt, ok := p.topics[name]
	if !ok {
		return
	}
	if jt.refs > 0 {
		jt.refs--
	}
	if jt.refs > 0 {
		return
	}
	// Close fails while pubsub still tracks a cancelled subscription; the topic stays
	// joined and the next release retries.
	if err := jt.topic.Close(); err != nil {
		log.Debugw("topic still in use", "topic", name, "error", err)
		return
	}
	delete(p.topics, name)
}

type mdnsNotifee struct {
	ctx  context.Context
	host host.Host
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		log.Debugf("mdns connect failed %s: %v", info.ID, err)
	}
}
