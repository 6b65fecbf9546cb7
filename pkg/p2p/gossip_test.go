package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/uhyunpark/hyperorders/pkg/events"
)

func newTestGossip(t *testing.T, bootstrap ...string) *Gossip {
	t.Helper()
	g, err := NewGossip(context.Background(), Config{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Bootstrap:  bootstrap,
		Topic:      "hyperorders/test",
	})
	if err != nil {
		t.Fatalf("gossip: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func collect() (events.Sink, chan events.Event) {
	ch := make(chan events.Event, 16)
	return events.SinkFunc(func(_ context.Context, ev events.Event) error {
		ch <- ev
		return nil
	}), ch
}

func TestGossipRelaysToPeers(t *testing.T) {
	a := newTestGossip(t)
	if len(a.Addrs()) == 0 {
		t.Fatal("no listen addresses")
	}
	b := newTestGossip(t, a.Addrs()[0])

	selfSink, fromSelf := collect()
	a.SetHandler(selfSink)
	peerSink, fromPeer := collect()
	b.SetHandler(peerSink)

	ev := events.Event{Kind: events.OrderPlaced, OrderID: 3, OrderType: "position", Pending: true}

	// the mesh forms on the first heartbeats; publish until it delivers
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := a.Publish(context.Background(), ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case got := <-fromPeer:
			if got.Kind != ev.Kind || got.OrderID != 3 || got.OrderType != "position" || !got.Pending {
				t.Fatalf("received %+v", got)
			}
			select {
			case own := <-fromSelf:
				t.Fatalf("own event relayed back: %+v", own)
			default:
			}
			return
		case <-deadline:
			t.Fatal("event never reached peer")
		case <-tick.C:
		}
	}
}

func TestNewGossipRejectsBadListenAddr(t *testing.T) {
	if _, err := NewGossip(context.Background(), Config{ListenAddr: "not-a-multiaddr"}); err == nil {
		t.Fatal("bad listen address accepted")
	}
}
