package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func baseOptions() options {
	return options{
		key:          testKey,
		chainID:      1337,
		action:       string(crypto.ActionPlacePosition),
		nonce:        5,
		assetID:      1,
		long:         true,
		open:         true,
		amount:       "1",
		size:         "0.2",
		price:        "3000",
		collateralPx: "0",
		assetPx:      "0",
		mlpPx:        "0",
	}
}

func TestRunPrintsVerifiableRequest(t *testing.T) {
	var out bytes.Buffer
	if err := run(baseOptions(), &out); err != nil {
		t.Fatal(err)
	}
	tx, err := transaction.ParseTransaction(bytes.TrimSpace(out.Bytes()))
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	signer, _ := crypto.FromPrivateKeyHex(testKey)
	got, err := transaction.NewVerifier(crypto.DefaultDomain(), nil).RecoverSigner(tx)
	if err != nil || got != signer.Address() {
		t.Fatalf("recovered %s, %v", got.Hex(), err)
	}

	req := tx.Request
	sub := order.SubAccountID(req.SubAccountID)
	if sub.Account() != signer.Address() || sub.AssetID() != 1 || !sub.IsLong() {
		t.Errorf("sub-account %s", sub)
	}
	if order.PositionFlags(req.Flags) != order.FlagOpenPosition {
		t.Errorf("flags = %#x", req.Flags)
	}
	if crypto.Big(req.Size).String() != "200000000000000000" || crypto.Big(req.Price).String() != "3000000000000000000000" {
		t.Errorf("size %s price %s", crypto.Big(req.Size), crypto.Big(req.Price))
	}
	if req.Nonce != 5 {
		t.Errorf("nonce = %d", req.Nonce)
	}
}

func TestRunTyped(t *testing.T) {
	o := baseOptions()
	o.typed = true
	var out bytes.Buffer
	if err := run(o, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"primaryType": "OrderRequest"`) {
		t.Fatalf("typed output:\n%s", out.String())
	}
}

func TestBuildRequestRejects(t *testing.T) {
	signer, _ := crypto.FromPrivateKeyHex(testKey)

	o := baseOptions()
	o.action = "liquidate"
	if _, err := buildRequest(o, signer.Address()); !errors.Is(err, crypto.ErrUnknownAction) {
		t.Errorf("unknown action: %v", err)
	}

	o = baseOptions()
	o.size = "0.0000000000000000001"
	if _, err := buildRequest(o, signer.Address()); err == nil {
		t.Error("excess precision accepted")
	}

	o = baseOptions()
	o.assetID = 300
	if _, err := buildRequest(o, signer.Address()); err == nil {
		t.Error("asset id 300 accepted")
	}
}
