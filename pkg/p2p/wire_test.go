package p2p

import (
	"testing"
	"time"

	"github.com/uhyunpark/hyperorders/pkg/events"
)

func TestEventWire(t *testing.T) {
	ev := events.Event{
		Kind:      events.OrderFilled,
		OrderID:   12,
		OrderType: "liquidity",
		Account:   "0x00000000000000000000000000000000000000a1",
		Record:    []string{"0x01", "0x02", "0x03"},
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
	raw, err := encodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != ev.Kind || got.OrderID != ev.OrderID || got.Account != ev.Account ||
		len(got.Record) != 3 || !got.Timestamp.Equal(ev.Timestamp) {
		t.Fatalf("decoded %+v", got)
	}
}

func TestEventWireRejects(t *testing.T) {
	if _, err := decodeEvent([]byte("garbage")); err == nil {
		t.Error("garbage decoded")
	}
	raw, err := gobEncode(EventWire{Version: wireVersion + 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeEvent(raw); err == nil {
		t.Error("future wire version accepted")
	}
}
