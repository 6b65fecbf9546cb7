package crypto

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNonceTracker(t *testing.T) {
	n := NewNonceTracker()
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")

	if _, ok := n.Last(alice); ok {
		t.Fatal("fresh tracker has a nonce")
	}
	if err := n.Use(alice, 0); err != nil {
		t.Fatalf("first nonce 0: %v", err)
	}
	if err := n.Use(alice, 0); !errors.Is(err, ErrStaleNonce) {
		t.Fatalf("replay: got %v, want ErrStaleNonce", err)
	}
	if err := n.Use(alice, 5); err != nil {
		t.Fatalf("gap is allowed: %v", err)
	}
	if err := n.Check(alice, 3); !errors.Is(err, ErrStaleNonce) {
		t.Fatalf("older nonce: got %v", err)
	}
	if err := n.Check(alice, 6); err != nil {
		t.Fatalf("check next: %v", err)
	}
	if last, _ := n.Last(alice); last != 5 {
		t.Errorf("Check must not consume, last = %d", last)
	}
	if err := n.Use(bob, 0); err != nil {
		t.Fatalf("senders are independent: %v", err)
	}
}

type mapNonceStore struct {
	saved map[common.Address]uint64
	fail  error
}

func (m *mapNonceStore) SaveNonce(sender common.Address, nonce uint64) error {
	if m.fail != nil {
		return m.fail
	}
	m.saved[sender] = nonce
	return nil
}

func (m *mapNonceStore) LoadNonces() (map[common.Address]uint64, error) {
	out := make(map[common.Address]uint64, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func TestPersistentNonceTracker(t *testing.T) {
	alice := common.HexToAddress("0xa1")
	store := &mapNonceStore{saved: make(map[common.Address]uint64)}

	n, err := NewPersistentNonceTracker(store)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Use(alice, 7); err != nil {
		t.Fatal(err)
	}
	if store.saved[alice] != 7 {
		t.Fatalf("stored nonce = %d, want 7", store.saved[alice])
	}

	restarted, err := NewPersistentNonceTracker(store)
	if err != nil {
		t.Fatal(err)
	}
	if err := restarted.Use(alice, 7); !errors.Is(err, ErrStaleNonce) {
		t.Fatalf("replay after reload: got %v, want ErrStaleNonce", err)
	}

	store.fail = errors.New("disk full")
	if err := restarted.Use(alice, 8); !errors.Is(err, ErrNonceStore) {
		t.Fatalf("store failure: got %v, want ErrNonceStore", err)
	}
	if last, _ := restarted.Last(alice); last != 7 {
		t.Errorf("failed save consumed the nonce, last = %d", last)
	}
}
