package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func placeRequest(sender common.Address) *OrderRequest {
	return &OrderRequest{
		Action:       ActionPlacePosition,
		Sender:       sender,
		SubAccountID: common.HexToHash("0x01"),
		Flags:        0xc0,
		Amount:       Num(big.NewInt(1e18)),
		Size:         Num(big.NewInt(2e17)),
		Price:        Num(new(big.Int).Mul(big.NewInt(3000), big.NewInt(1e18))),
		Nonce:        1,
	}
}

func TestRequestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	req := placeRequest(signer.Address())

	sig, err := e.SignRequest(signer, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := e.VerifyRequest(req, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	addr, err := e.RecoverRequestSigner(req, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr != signer.Address() {
		t.Errorf("recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}
}

func TestRequestTamperingDetected(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	req := placeRequest(signer.Address())
	sig, _ := e.SignRequest(signer, req)

	cases := []struct {
		name   string
		mutate func(r *OrderRequest)
	}{
		{"size", func(r *OrderRequest) { r.Size = Num(big.NewInt(3e17)) }},
		{"price", func(r *OrderRequest) { r.Price = Num(big.NewInt(1)) }},
		{"nonce", func(r *OrderRequest) { r.Nonce = 2 }},
		{"flags", func(r *OrderRequest) { r.Flags = 0x80 }},
		{"action", func(r *OrderRequest) { r.Action = ActionCancel }},
		{"sender", func(r *OrderRequest) { r.Sender = common.HexToAddress("0x02") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mod := *req
			tc.mutate(&mod)
			err := e.VerifyRequest(&mod, sig)
			if !errors.Is(err, ErrWrongSigner) {
				t.Fatalf("verify after changing %s: got %v, want ErrWrongSigner", tc.name, err)
			}
		})
	}
}

func TestRequestDomainSeparation(t *testing.T) {
	signer, _ := GenerateKey()
	req := placeRequest(signer.Address())

	local := NewEIP712Signer(DefaultDomain())
	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	remote := NewEIP712Signer(other)

	h1, err := local.HashRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := remote.HashRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(h1, h2) {
		t.Fatal("digest must depend on chain id")
	}

	sig, _ := local.SignRequest(signer, req)
	if err := remote.VerifyRequest(req, sig); err == nil {
		t.Fatal("signature from another chain must not verify")
	}
}

func TestNilAmountsHashAsZero(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	a := &OrderRequest{Action: ActionCancel, OrderID: 9, Nonce: 4}
	b := &OrderRequest{Action: ActionCancel, OrderID: 9, Nonce: 4, Amount: Num(new(big.Int))}

	ha, err := e.HashRequest(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := e.HashRequest(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ha, hb) {
		t.Error("nil and zero amount must hash the same")
	}
}

func TestUnknownAction(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	_, err := e.HashRequest(&OrderRequest{Action: "liquidate"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("got %v, want ErrUnknownAction", err)
	}
}

func TestRequestJSONRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	req := placeRequest(signer.Address())

	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var back OrderRequest
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}

	e := NewEIP712Signer(DefaultDomain())
	h1, _ := e.HashRequest(req)
	h2, _ := e.HashRequest(&back)
	if !bytes.Equal(h1, h2) {
		t.Errorf("digest changed after JSON round trip: %s", raw)
	}

	typed, err := e.RequestToJSON(req)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"primaryType": "OrderRequest"`, `"subAccountId"`, `"place_position"`} {
		if !strings.Contains(typed, want) {
			t.Errorf("typed data JSON missing %s", want)
		}
	}
}

func TestActionHelpers(t *testing.T) {
	if !ActionFillLiquidity.IsFill() || ActionPlaceLiquidity.IsFill() || ActionCancel.IsFill() {
		t.Error("IsFill mismatch")
	}
	if Action("nope").Valid() {
		t.Error("unknown action reported valid")
	}
}
