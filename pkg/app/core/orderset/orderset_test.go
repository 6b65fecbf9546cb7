package orderset

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
)

const (
	valueA uint64 = 1
	valueB uint64 = 2
	valueC uint64 = 3
)

// expectMembersMatch checks membership, length and that enumeration yields
// exactly want in any order.
func expectMembersMatch(t *testing.T, s *Set, want []uint64) {
	t.Helper()

	for _, id := range want {
		if !s.Contains(id) {
			t.Fatalf("Contains(%d) = false, want true", id)
		}
	}
	if s.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(want))
	}

	got := make([]uint64, 0, s.Len())
	for i := 0; i < s.Len(); i++ {
		id, err := s.At(i)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		got = append(got, id)
	}

	wantSorted := append([]uint64(nil), want...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	sort.Slice(wantSorted, func(i, j int) bool { return wantSorted[i] < wantSorted[j] })
	for i := range wantSorted {
		if got[i] != wantSorted[i] {
			t.Fatalf("members = %v, want %v", got, wantSorted)
		}
	}
}

func TestStartsEmpty(t *testing.T) {
	s := New()
	if s.Contains(valueA) {
		t.Fatal("empty set contains valueA")
	}
	expectMembersMatch(t, s, nil)
}

func TestAdd(t *testing.T) {
	t.Run("adds a value", func(t *testing.T) {
		s := New()
		if err := s.Add(valueA); err != nil {
			t.Fatalf("Add: %v", err)
		}
		expectMembersMatch(t, s, []uint64{valueA})
	})

	t.Run("adds several values", func(t *testing.T) {
		s := New()
		s.Add(valueA)
		s.Add(valueB)
		expectMembersMatch(t, s, []uint64{valueA, valueB})
		if s.Contains(valueC) {
			t.Error("Contains(valueC) = true, want false")
		}
	})

	t.Run("rejects values already in the set", func(t *testing.T) {
		s := New()
		s.Add(valueA)
		if err := s.Add(valueA); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("Add duplicate = %v, want ErrDuplicateID", err)
		}
		expectMembersMatch(t, s, []uint64{valueA})
	})

	t.Run("accepts id zero", func(t *testing.T) {
		s := New()
		if err := s.Add(0); err != nil {
			t.Fatalf("Add(0): %v", err)
		}
		if !s.Contains(0) {
			t.Fatal("Contains(0) = false after Add(0)")
		}
		if err := s.Add(0); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("second Add(0) = %v, want ErrDuplicateID", err)
		}
	})
}

func TestAtOutOfRange(t *testing.T) {
	s := New()
	if _, err := s.At(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("At(0) on empty set = %v, want ErrIndexOutOfRange", err)
	}
	s.Add(valueA)
	if _, err := s.At(1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("At(1) = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := s.At(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("At(-1) = %v, want ErrIndexOutOfRange", err)
	}
}

func TestRemove(t *testing.T) {
	t.Run("removes added values", func(t *testing.T) {
		s := New()
		s.Add(valueA)
		if err := s.Remove(valueA); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if s.Contains(valueA) {
			t.Fatal("Contains(valueA) = true after Remove")
		}
		expectMembersMatch(t, s, nil)
	})

	t.Run("rejects values not in the set", func(t *testing.T) {
		s := New()
		if err := s.Remove(valueA); !errors.Is(err, ErrUnknownID) {
			t.Fatalf("Remove missing = %v, want ErrUnknownID", err)
		}
		if s.Contains(valueA) {
			t.Fatal("Contains(valueA) = true")
		}
	})

	t.Run("adds and removes multiple values", func(t *testing.T) {
		s := New()

		s.Add(valueA)
		s.Add(valueC)
		expectMembersMatch(t, s, []uint64{valueA, valueC})

		s.Remove(valueA)
		if err := s.Remove(valueB); !errors.Is(err, ErrUnknownID) {
			t.Fatalf("Remove(valueB) = %v, want ErrUnknownID", err)
		}
		expectMembersMatch(t, s, []uint64{valueC})

		s.Add(valueB)
		expectMembersMatch(t, s, []uint64{valueC, valueB})

		s.Add(valueA)
		s.Remove(valueC)
		expectMembersMatch(t, s, []uint64{valueA, valueB})

		if err := s.Add(valueA); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("Add(valueA) = %v, want ErrDuplicateID", err)
		}
		if err := s.Add(valueB); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("Add(valueB) = %v, want ErrDuplicateID", err)
		}
		expectMembersMatch(t, s, []uint64{valueA, valueB})

		s.Add(valueC)
		s.Remove(valueA)
		expectMembersMatch(t, s, []uint64{valueC, valueB})

		s.Add(valueA)
		s.Remove(valueB)
		expectMembersMatch(t, s, []uint64{valueC, valueA})

		if s.Contains(valueB) {
			t.Fatal("Contains(valueB) = true, want false")
		}
	})
}

func TestRemoveSwapsLastIntoSlot(t *testing.T) {
	s := New()
	for _, id := range []uint64{10, 20, 30, 40} {
		s.Add(id)
	}
	s.Remove(20)

	// 40 was last, so it now occupies the slot 20 left behind.
	if got, _ := s.At(1); got != 40 {
		t.Fatalf("At(1) = %d, want 40", got)
	}
	// 40 must still be removable through its updated slot.
	if err := s.Remove(40); err != nil {
		t.Fatalf("Remove(40): %v", err)
	}
	expectMembersMatch(t, s, []uint64{10, 30})
}

func TestRange(t *testing.T) {
	s := New()
	for _, id := range []uint64{5, 6, 7} {
		s.Add(id)
	}

	tests := []struct {
		name       string
		begin, end int
		want       []uint64
		wantErr    bool
	}{
		{name: "full", begin: 0, end: 3, want: []uint64{5, 6, 7}},
		{name: "clamped end", begin: 1, end: 100, want: []uint64{6, 7}},
		{name: "begin past end of set", begin: 5, end: 10, want: []uint64{}},
		{name: "inverted", begin: 2, end: 1, wantErr: true},
		{name: "negative", begin: -1, end: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Range(tt.begin, tt.end)
			if tt.wantErr {
				if !errors.Is(err, ErrIndexOutOfRange) {
					t.Fatalf("Range err = %v, want ErrIndexOutOfRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Range: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Range = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Range = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// TestRandomOperations drives the set against a map model.
func TestRandomOperations(t *testing.T) {
	rnd := rand.New(rand.NewSource(1337))
	s := New()
	model := make(map[uint64]bool)
	adds, removes := 0, 0

	for i := 0; i < 5000; i++ {
		id := uint64(rnd.Intn(64))
		if rnd.Intn(2) == 0 {
			err := s.Add(id)
			if model[id] {
				if !errors.Is(err, ErrDuplicateID) {
					t.Fatalf("step %d: Add(%d) = %v, want ErrDuplicateID", i, id, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("step %d: Add(%d): %v", i, id, err)
			}
			model[id] = true
			adds++
		} else {
			err := s.Remove(id)
			if !model[id] {
				if !errors.Is(err, ErrUnknownID) {
					t.Fatalf("step %d: Remove(%d) = %v, want ErrUnknownID", i, id, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("step %d: Remove(%d): %v", i, id, err)
			}
			delete(model, id)
			removes++
		}

		if s.Len() != adds-removes {
			t.Fatalf("step %d: Len() = %d, want %d", i, s.Len(), adds-removes)
		}
	}

	want := make([]uint64, 0, len(model))
	for id := range model {
		want = append(want, id)
	}
	expectMembersMatch(t, s, want)
}
