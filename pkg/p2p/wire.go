package p2p

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/uhyunpark/hyperorders/pkg/events"
)

const wireVersion = 1

func init() {
	gob.Register(EventWire{})
}

// EventWire is the gossip envelope for one book event
type EventWire struct {
	Version uint8
	Event   events.Event
}

func encodeEvent(ev events.Event) ([]byte, error) {
	return gobEncode(EventWire{Version: wireVersion, Event: ev})
}

func decodeEvent(b []byte) (events.Event, error) {
	var w EventWire
	if err := gobDecode(b, &w); err != nil {
		return events.Event{}, err
	}
	if w.Version != wireVersion {
		return events.Event{}, fmt.Errorf("p2p: wire version %d, want %d", w.Version, wireVersion)
	}
	return w.Event, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
