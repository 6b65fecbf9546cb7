package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownAsset = errors.New("pool: unknown asset")
	ErrAssetExists  = errors.New("pool: asset already registered")
)

// Asset is one pool-listed token, addressed by its index in sub-account ids
type Asset struct {
	ID       uint8
	Symbol   string
	Token    common.Address
	Decimals uint8
	Stable   bool // usable as collateral at a fixed 1.0 price
}

// Registry maps asset ids to tokens in a thread-safe manner
type Registry struct {
	mu       sync.RWMutex
	assets   map[uint8]*Asset
	bySymbol map[string]uint8
}

func NewRegistry() *Registry {
	return &Registry{
		assets:   make(map[uint8]*Asset),
		bySymbol: make(map[string]uint8),
	}
}

// Register adds an asset
// Returns error if the id or symbol is already taken
func (r *Registry) Register(a Asset) error {
	if a.Symbol == "" {
		return fmt.Errorf("pool: asset %d has no symbol", a.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[a.ID]; exists {
		return fmt.Errorf("%w: id %d", ErrAssetExists, a.ID)
	}
	if _, exists := r.bySymbol[a.Symbol]; exists {
		return fmt.Errorf("%w: symbol %s", ErrAssetExists, a.Symbol)
	}
	r.assets[a.ID] = &a
	r.bySymbol[a.Symbol] = a.ID
	return nil
}

func (r *Registry) Get(id uint8) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.assets[id]
	if !exists {
		return Asset{}, fmt.Errorf("%w: %d", ErrUnknownAsset, id)
	}
	return *a, nil
}

func (r *Registry) BySymbol(symbol string) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.bySymbol[symbol]
	if !exists {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return *r.assets[id], nil
}

// List returns all assets ordered by id
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
