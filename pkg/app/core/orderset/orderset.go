// Package orderset implements an enumerable set of order ids.
//
// The set keeps a dense slice of members for enumeration and a map from id to
// its 1-based slot in that slice. Add, Remove, Contains and At are all O(1).
// Removal swaps the last member into the freed slot, so enumeration order is
// not stable across removals; only the member set is.
package orderset

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID     = errors.New("orderset: duplicate id")
	ErrUnknownID       = errors.New("orderset: unknown id")
	ErrIndexOutOfRange = errors.New("orderset: index out of range")
)

// Set is not safe for concurrent use; the owning order book serializes access.
type Set struct {
	ids []uint64
	pos map[uint64]int // id -> 1-based slot, 0 (missing) means absent
}

func New() *Set {
	return &Set{pos: make(map[uint64]int)}
}

// Add appends id to the set. Returns ErrDuplicateID if id is already a member.
func (s *Set) Add(id uint64) error {
	if s.pos[id] != 0 {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	s.ids = append(s.ids, id)
	s.pos[id] = len(s.ids)
	return nil
}

// Remove deletes id by moving the last member into its slot.
func (s *Set) Remove(id uint64) error {
	p := s.pos[id]
	if p == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	idx := p - 1
	lastIdx := len(s.ids) - 1
	if idx != lastIdx {
		last := s.ids[lastIdx]
		s.ids[idx] = last
		s.pos[last] = p
	}
	s.ids = s.ids[:lastIdx]
	delete(s.pos, id)
	return nil
}

func (s *Set) Contains(id uint64) bool {
	return s.pos[id] != 0
}

func (s *Set) Len() int {
	return len(s.ids)
}

// At returns the member stored at dense index i.
func (s *Set) At(i int) (uint64, error) {
	if i < 0 || i >= len(s.ids) {
		return 0, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(s.ids))
	}
	return s.ids[i], nil
}

// Values returns a copy of the members in current dense order.
func (s *Set) Values() []uint64 {
	out := make([]uint64, len(s.ids))
	copy(out, s.ids)
	return out
}

// Range returns members in dense positions [begin, end), clamped to Len.
func (s *Set) Range(begin, end int) ([]uint64, error) {
	if begin < 0 || begin > end {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrIndexOutOfRange, begin, end)
	}
	if end > len(s.ids) {
		end = len(s.ids)
	}
	if begin >= end {
		return []uint64{}, nil
	}
	out := make([]uint64, end-begin)
	copy(out, s.ids[begin:end])
	return out, nil
}
