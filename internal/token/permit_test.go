package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func signPermit(t *testing.T, p Permit, d TransferDetails) (owner string, sig []byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig, err = crypto.Sign(Digest(p, d).Bytes(), key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), sig
}

func TestVerifyPermit(t *testing.T) {
	p := Permit{Token: "0x0b2c639c533813f4aa9d7837caf62653d097ff85", Amount: 5_000, Nonce: 1, Deadline: testNow.Add(time.Hour).Unix()}
	d := TransferDetails{To: "0x000000000000000000000000000000000000beef", RequestedAmount: 5_000}
	owner, sig := signPermit(t, p, d)

	if err := VerifyPermit(p, d, owner, sig, testNow); err != nil {
		t.Fatalf("VerifyPermit: %v", err)
	}
}

func TestVerifyPermitRejections(t *testing.T) {
	base := Permit{Token: "0x0b2c639c533813f4aa9d7837caf62653d097ff85", Amount: 5_000, Nonce: 1, Deadline: testNow.Add(time.Hour).Unix()}
	baseDetails := TransferDetails{To: "0x000000000000000000000000000000000000beef", RequestedAmount: 5_000}
	owner, sig := signPermit(t, base, baseDetails)

	tests := []struct {
		name  string
		check func(t *testing.T) error
	}{
		{
			name: "expired deadline",
			check: func(t *testing.T) error {
				return VerifyPermit(base, baseDetails, owner, sig, time.Unix(base.Deadline+1, 0).UTC())
			},
		},
		{
			name: "requested exceeds signed amount",
			check: func(t *testing.T) error {
				d := baseDetails
				d.RequestedAmount = base.Amount + 1
				return VerifyPermit(base, d, owner, sig, testNow)
			},
		},
		{
			name: "zero requested amount",
			check: func(t *testing.T) error {
				d := baseDetails
				d.RequestedAmount = 0
				return VerifyPermit(base, d, owner, sig, testNow)
			},
		},
		{
			name: "truncated signature",
			check: func(t *testing.T) error {
				return VerifyPermit(base, baseDetails, owner, sig[:64], testNow)
			},
		},
		{
			name: "tampered details",
			check: func(t *testing.T) error {
				d := baseDetails
				d.To = "0x000000000000000000000000000000000000dead"
				return VerifyPermit(base, d, owner, sig, testNow)
			},
		},
		{
			name: "wrong signer",
			check: func(t *testing.T) error {
				other, _ := signPermit(t, base, baseDetails)
				return VerifyPermit(base, baseDetails, other, sig, testNow)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.check(t); !errors.Is(err, ErrAuthorizationInvalid) {
				t.Fatalf("err = %v, want %v", err, ErrAuthorizationInvalid)
			}
		})
	}
}

func TestVerifyPermitNormalizesRecoveryID(t *testing.T) {
	p := Permit{Token: "0x0b2c639c533813f4aa9d7837caf62653d097ff85", Amount: 100, Nonce: 9, Deadline: testNow.Add(time.Hour).Unix()}
	d := TransferDetails{To: "0x000000000000000000000000000000000000beef", RequestedAmount: 100}
	owner, sig := signPermit(t, p, d)

	// Wallets commonly emit v as 27/28 instead of 0/1.
	legacy := make([]byte, 65)
	copy(legacy, sig)
	legacy[64] += 27
	if err := VerifyPermit(p, d, owner, legacy, testNow); err != nil {
		t.Fatalf("VerifyPermit: %v", err)
	}
}

func TestStubPermitTransfer(t *testing.T) {
	stub := NewStub("pool")
	stub.SetNowFunc(func() time.Time { return testNow })
	p := Permit{Token: "0x0b2c639c533813f4aa9d7837caf62653d097ff85", Amount: 1_000, Nonce: 1, Deadline: testNow.Add(time.Hour).Unix()}
	d := TransferDetails{To: "pool", RequestedAmount: 1_000}
	owner, sig := signPermit(t, p, d)
	stub.Mint(owner, 1_500)

	if err := stub.PermitTransferFrom(context.Background(), p, d, owner, sig); err != nil {
		t.Fatalf("PermitTransferFrom: %v", err)
	}
	if got, _ := stub.BalanceOf(context.Background(), "pool"); got != 1_000 {
		t.Fatalf("pool balance = %d", got)
	}
	// Replaying the same nonce must fail even though the signature is valid.
	if err := stub.PermitTransferFrom(context.Background(), p, d, owner, sig); !errors.Is(err, ErrAuthorizationInvalid) {
		t.Fatalf("replay err = %v, want %v", err, ErrAuthorizationInvalid)
	}
}

func TestStubTransferFromConsumesAllowance(t *testing.T) {
	stub := NewStub("pool")
	stub.Mint("alice", 1_000)
	stub.Approve("alice", "pool", 600)

	if err := stub.TransferFrom(context.Background(), "alice", "pool", 500); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if err := stub.TransferFrom(context.Background(), "alice", "pool", 200); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientAllowance)
	}
	if err := stub.TransferFrom(context.Background(), "alice", "pool", 100); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got, _ := stub.BalanceOf(context.Background(), "alice"); got != 400 {
		t.Fatalf("alice balance = %d", got)
	}
}
