package storage

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
)

var ErrCorrupt = errors.New("storage: corrupt order store")

// OrderStore persists order book state in Pebble. Each Commit is one batch
// written with Sync, so a book mutation is either fully on disk or absent.
type OrderStore struct {
	db *pebble.DB
}

func NewOrderStore(path string) (*OrderStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &OrderStore{db: db}, nil
}

func (s *OrderStore) Close() error { return s.db.Close() }

// Commit applies a book change atomically
func (s *OrderStore) Commit(c orderbook.Change) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, e := range c.Put {
		id := e.Record.ID()
		if err := b.Set(orderKey(id), encodeEntry(e), nil); err != nil {
			return fmt.Errorf("put order %d: %w", id, err)
		}
		pk := pendingKey(e.Record.Type(), id)
		var err error
		if e.Status == order.StatusPending {
			err = b.Set(pk, nil, nil)
		} else {
			err = b.Delete(pk, nil)
		}
		if err != nil {
			return fmt.Errorf("index order %d: %w", id, err)
		}
	}
	if c.NextID != nil {
		if err := b.Set([]byte(keyNextID), encodeUint64(*c.NextID), nil); err != nil {
			return fmt.Errorf("put next id: %w", err)
		}
	}
	for addr, add := range c.Brokers {
		var err error
		if add {
			err = b.Set(brokerKey(addr), nil, nil)
		} else {
			err = b.Delete(brokerKey(addr), nil)
		}
		if err != nil {
			return fmt.Errorf("broker %s: %w", addr.Hex(), err)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Load reads the full book state. Records are returned in id order and the
// pending index is checked against each record's status.
func (s *OrderStore) Load() (orderbook.Snapshot, error) {
	var snap orderbook.Snapshot

	next, err := s.nextID()
	if err != nil {
		return snap, err
	}
	snap.NextID = next

	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return snap, fmt.Errorf("iterate orders: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			iter.Close()
			return snap, fmt.Errorf("order key %s: %w", iter.Key(), err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := iter.Close(); err != nil {
		return snap, fmt.Errorf("iterate orders: %w", err)
	}

	pending := 0
	for _, t := range order.Types {
		ids, err := s.PendingIDs(t)
		if err != nil {
			return snap, err
		}
		pending += len(ids)
	}
	var want int
	for _, e := range snap.Entries {
		if e.Status == order.StatusPending {
			want++
			if !s.has(pendingKey(e.Record.Type(), e.Record.ID())) {
				return snap, fmt.Errorf("%w: order %d pending but not indexed", ErrCorrupt, e.Record.ID())
			}
		}
	}
	if pending != want {
		return snap, fmt.Errorf("%w: %d pending index entries for %d pending orders", ErrCorrupt, pending, want)
	}

	snap.Brokers, err = s.brokers()
	if err != nil {
		return snap, err
	}
	return snap, nil
}

// PendingIDs lists the ids indexed as pending for a type, in id order
func (s *OrderStore) PendingIDs(t order.Type) ([]uint64, error) {
	prefix := pendingPrefix(t)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	defer iter.Close()

	var ids []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := strconv.ParseUint(string(iter.Key()[len(prefix):]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: pending key %s", ErrCorrupt, iter.Key())
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *OrderStore) nextID() (uint64, error) {
	val, closer, err := s.db.Get([]byte(keyNextID))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get next id: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("%w: next id is %d bytes", ErrCorrupt, len(val))
	}
	return decodeUint64(val), nil
}

func (s *OrderStore) brokers() ([]common.Address, error) {
	prefix := []byte(prefixBroker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate brokers: %w", err)
	}
	defer iter.Close()

	var out []common.Address
	for iter.First(); iter.Valid(); iter.Next() {
		hex := string(iter.Key()[len(prefix):])
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("%w: broker key %s", ErrCorrupt, iter.Key())
		}
		out = append(out, common.HexToAddress(hex))
	}
	return out, nil
}

func (s *OrderStore) has(key []byte) bool {
	_, closer, err := s.db.Get(key)
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

func encodeEntry(e orderbook.Entry) []byte {
	out := make([]byte, 0, order.RecordLen+1)
	out = append(out, e.Record.Bytes()...)
	return append(out, byte(e.Status))
}

func decodeEntry(val []byte) (orderbook.Entry, error) {
	if len(val) != order.RecordLen+1 {
		return orderbook.Entry{}, fmt.Errorf("%w: entry is %d bytes", ErrCorrupt, len(val))
	}
	rec, err := order.RecordFromBytes(val[:order.RecordLen])
	if err != nil {
		return orderbook.Entry{}, err
	}
	return orderbook.Entry{Record: rec, Status: order.Status(val[order.RecordLen])}, nil
}

// SaveNonce records the last consumed request nonce for sender
func (s *OrderStore) SaveNonce(sender common.Address, nonce uint64) error {
	if err := s.db.Set(nonceKey(sender), encodeUint64(nonce), pebble.Sync); err != nil {
		return fmt.Errorf("put nonce %s: %w", sender.Hex(), err)
	}
	return nil
}

// LoadNonces returns the last consumed nonce of every sender seen so far
func (s *OrderStore) LoadNonces() (map[common.Address]uint64, error) {
	prefix := []byte(prefixNonce)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate nonces: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Address]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		hex := string(iter.Key()[len(prefix):])
		if !common.IsHexAddress(hex) || len(iter.Value()) != 8 {
			return nil, fmt.Errorf("%w: nonce key %s", ErrCorrupt, iter.Key())
		}
		out[common.HexToAddress(hex)] = decodeUint64(iter.Value())
	}
	return out, nil
}

var (
	_ orderbook.Store   = (*OrderStore)(nil)
	_ crypto.NonceStore = (*OrderStore)(nil)
)
