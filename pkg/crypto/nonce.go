package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrStaleNonce = errors.New("crypto: nonce already used")
	ErrNonceStore = errors.New("crypto: nonce store failure")
)

// NonceStore keeps the last consumed nonce per sender across restarts.
type NonceStore interface {
	SaveNonce(sender common.Address, nonce uint64) error
	LoadNonces() (map[common.Address]uint64, error)
}

// NonceTracker enforces strictly increasing nonces per sender so a signed
// request cannot be replayed.
type NonceTracker struct {
	mu    sync.Mutex
	last  map[common.Address]uint64
	seen  map[common.Address]bool
	store NonceStore
}

func NewNonceTracker() *NonceTracker {
	return &NonceTracker{
		last: make(map[common.Address]uint64),
		seen: make(map[common.Address]bool),
	}
}

// NewPersistentNonceTracker restores consumed nonces from store and writes
// every later one through to it before accepting it.
func NewPersistentNonceTracker(store NonceStore) (*NonceTracker, error) {
	n := NewNonceTracker()
	saved, err := store.LoadNonces()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNonceStore, err)
	}
	for sender, nonce := range saved {
		n.last[sender] = nonce
		n.seen[sender] = true
	}
	n.store = store
	return n, nil
}

// Check reports whether nonce is acceptable for sender without consuming it
func (n *NonceTracker) Check(sender common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.check(sender, nonce)
}

// Use consumes nonce for sender. With a store attached the nonce is only
// consumed once it is durable.
func (n *NonceTracker) Use(sender common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(sender, nonce); err != nil {
		return err
	}
	if n.store != nil {
		if err := n.store.SaveNonce(sender, nonce); err != nil {
			return fmt.Errorf("%w: %w", ErrNonceStore, err)
		}
	}
	n.last[sender] = nonce
	n.seen[sender] = true
	return nil
}

// Last returns the highest nonce consumed for sender
func (n *NonceTracker) Last(sender common.Address) (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last[sender], n.seen[sender]
}

func (n *NonceTracker) check(sender common.Address, nonce uint64) error {
	if n.seen[sender] && nonce <= n.last[sender] {
		return fmt.Errorf("%w: %s sent %d, last %d", ErrStaleNonce, sender.Hex(), nonce, n.last[sender])
	}
	return nil
}
