package orderbook

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// AddBroker grants addr the right to fill orders and cancel on behalf of
// owners. Adding an existing broker is a no-op.
func (ob *OrderBook) AddBroker(addr common.Address) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, ok := ob.brokers[addr]; ok {
		return nil
	}
	if err := ob.store.Commit(Change{Brokers: map[common.Address]bool{addr: true}}); err != nil {
		return fmt.Errorf("%w: broker: %w", ErrPersist, err)
	}
	ob.brokers[addr] = struct{}{}
	ob.log.Infow("broker_added", "broker", addr.Hex())
	return nil
}

func (ob *OrderBook) RemoveBroker(addr common.Address) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, ok := ob.brokers[addr]; !ok {
		return nil
	}
	if err := ob.store.Commit(Change{Brokers: map[common.Address]bool{addr: false}}); err != nil {
		return fmt.Errorf("%w: broker: %w", ErrPersist, err)
	}
	delete(ob.brokers, addr)
	ob.log.Infow("broker_removed", "broker", addr.Hex())
	return nil
}

func (ob *OrderBook) IsBroker(addr common.Address) bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.isBroker(addr)
}

// Brokers lists the current brokers in address order.
func (ob *OrderBook) Brokers() []common.Address {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	out := make([]common.Address, 0, len(ob.brokers))
	for b := range ob.brokers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (ob *OrderBook) isBroker(addr common.Address) bool {
	_, ok := ob.brokers[addr]
	return ok
}

func (ob *OrderBook) requireBroker(caller common.Address) error {
	if !ob.isBroker(caller) {
		return fmt.Errorf("%w: %s", ErrBrokerOnly, caller.Hex())
	}
	return nil
}
