package token

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// permitTypeHash commits to the field layout of the signed payload.
var permitTypeHash = crypto.Keccak256Hash([]byte(
	"PermitTransferFrom(address token,uint256 amount,uint256 nonce,uint256 deadline,address to,uint256 requestedAmount)",
))

// Digest is the 32-byte message a permit signer signs.
func Digest(p Permit, d TransferDetails) common.Hash {
	enc := make([]byte, 0, 32*7)
	enc = append(enc, permitTypeHash.Bytes()...)
	enc = append(enc, padAddress(p.Token)...)
	enc = append(enc, padUint(big.NewInt(p.Amount))...)
	enc = append(enc, padUint(new(big.Int).SetUint64(p.Nonce))...)
	enc = append(enc, padUint(big.NewInt(p.Deadline))...)
	enc = append(enc, padAddress(d.To)...)
	enc = append(enc, padUint(big.NewInt(d.RequestedAmount))...)
	return crypto.Keccak256Hash(enc)
}

// VerifyPermit checks everything about a signed authorization except the
// nonce, which only the executing collaborator can judge: deadline not
// passed, requested amount covered by the signed amount, and a 65-byte
// secp256k1 signature recovering to the owner.
func VerifyPermit(p Permit, d TransferDetails, owner string, signature []byte, now time.Time) error {
	if p.Deadline > 0 && now.Unix() > p.Deadline {
		return fmt.Errorf("%w: deadline expired", ErrAuthorizationInvalid)
	}
	if d.RequestedAmount <= 0 || d.RequestedAmount > p.Amount {
		return fmt.Errorf("%w: requested amount exceeds signed amount", ErrAuthorizationInvalid)
	}
	if len(signature) != 65 {
		return fmt.Errorf("%w: malformed signature", ErrAuthorizationInvalid)
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(Digest(p, d).Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: unrecoverable signature", ErrAuthorizationInvalid)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(owner) {
		return fmt.Errorf("%w: signer mismatch", ErrAuthorizationInvalid)
	}
	return nil
}

func padAddress(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

func padUint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
