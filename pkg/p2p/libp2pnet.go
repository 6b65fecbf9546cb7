// Package p2p shares order book events between nodes over libp2p gossipsub.
package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/pkg/events"
)

const DefaultTopic = "hyperorders/events/1"

type Config struct {
	ListenAddr string // multiaddr, e.g. /ip4/0.0.0.0/tcp/9000
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

// Gossip publishes local book events to a gossipsub topic and hands events
// from other peers to a handler. It is an events.Sink.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}

	muH     sync.RWMutex
	handler events.Sink
}

var _ events.Sink = (*Gossip)(nil)

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(runCtx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	g := &Gossip{h: h, ps: ps, log: log, cancel: cancel, done: make(chan struct{})}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := g.joinTopic(cfg.Topic); err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	go g.readLoop(runCtx)

	log.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) joinTopic(name string) error {
	var err error
	if g.topic, err = g.ps.Join(name); err != nil {
		return err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable multiaddrs including the peer id, suitable for
// another node's bootstrap list
func (g *Gossip) Addrs() []string {
	info := peer.AddrInfo{ID: g.h.ID(), Addrs: g.h.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, len(maddrs))
	for i, m := range maddrs {
		out[i] = m.String()
	}
	return out
}

// Peers is the number of peers in the topic mesh
func (g *Gossip) Peers() int { return len(g.topic.ListPeers()) }

// SetHandler sets the sink for events received from other peers
func (g *Gossip) SetHandler(s events.Sink) { g.muH.Lock(); g.handler = s; g.muH.Unlock() }

// Publish broadcasts a local event
func (g *Gossip) Publish(ctx context.Context, ev events.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

// Close stops the router and the host; the topic goes down with the router
func (g *Gossip) Close() error {
	g.sub.Cancel()
	g.cancel()
	<-g.done
	return g.h.Close()
}

// inbound

func (g *Gossip) readLoop(ctx context.Context) {
	defer close(g.done)
	self := g.h.ID()
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		ev, err := decodeEvent(msg.Data)
		if err != nil {
			g.log.Warnw("gossip_bad_message", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}

		g.muH.RLock()
		h := g.handler
		g.muH.RUnlock()
		if h == nil {
			continue
		}
		if err := h.Publish(ctx, ev); err != nil {
			g.log.Warnw("gossip_handler_failed", "order_id", ev.OrderID, "err", err)
		}
	}
}
