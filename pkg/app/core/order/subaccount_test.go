package order

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSubAccountIDFields(t *testing.T) {
	s := NewSubAccountID(alice, 3, 7, true)

	if s.Account() != alice {
		t.Errorf("Account = %s, want %s", s.Account().Hex(), alice.Hex())
	}
	if s.CollateralID() != 3 || s.AssetID() != 7 || !s.IsLong() {
		t.Errorf("fields = (%d, %d, %v), want (3, 7, true)", s.CollateralID(), s.AssetID(), s.IsLong())
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseSubAccountID(t *testing.T) {
	s := NewSubAccountID(alice, 0, 1, false)

	parsed, err := ParseSubAccountID(s.Hex())
	if err != nil {
		t.Fatalf("ParseSubAccountID: %v", err)
	}
	if parsed != s {
		t.Fatalf("parsed = %s, want %s", parsed, s)
	}

	bad := s
	bad[31] = 1
	if _, err := ParseSubAccountID(bad.Hex()); !errors.Is(err, ErrInvalidSubAccount) {
		t.Errorf("non-zero padding err = %v, want ErrInvalidSubAccount", err)
	}
	if _, err := ParseSubAccountID("0x1234"); !errors.Is(err, ErrInvalidSubAccount) {
		t.Errorf("short id err = %v, want ErrInvalidSubAccount", err)
	}
	if _, err := ParseSubAccountID("nothex"); !errors.Is(err, ErrInvalidSubAccount) {
		t.Errorf("garbage err = %v, want ErrInvalidSubAccount", err)
	}
}

func TestSubAccountIDJSON(t *testing.T) {
	in := struct {
		Sub SubAccountID `json:"sub"`
	}{Sub: NewSubAccountID(alice, 1, 2, true)}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out struct {
		Sub SubAccountID `json:"sub"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Sub != in.Sub {
		t.Fatalf("json round trip = %s, want %s", out.Sub, in.Sub)
	}
}
