package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
)

// Order book key schema for Pebble storage
//
//   ord:<id>          → 96-byte packed record + 1 status byte
//   pend:<type>:<id>  → empty (index of pending orders per type)
//   meta:next         → 8-byte big-endian next order id
//   brk:<address>     → empty (broker registry)
//   nonce:<address>   → 8-byte big-endian last consumed request nonce
//
// Ids are zero-padded to 20 digits so lexicographic order matches numeric order.

// Key prefixes
const (
	prefixOrder   = "ord:"
	prefixPending = "pend:"
	prefixBroker  = "brk:"
	prefixNonce   = "nonce:"
	keyNextID     = "meta:next"
)

// orderKey returns the key for an order record
// Format: "ord:{id}"
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// pendingKey returns the pending index key for an order
// Format: "pend:{type}:{id}"
func pendingKey(t order.Type, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixPending, t, id))
}

// pendingPrefix returns the prefix for all pending orders of a type
func pendingPrefix(t order.Type) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixPending, t))
}

// brokerKey returns the key for a broker
// Format: "brk:{address}"
func brokerKey(addr common.Address) []byte {
	return []byte(prefixBroker + addr.Hex())
}

// nonceKey returns the key for a sender's last nonce
// Format: "nonce:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
