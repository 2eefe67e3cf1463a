package gasless

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	authTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
)

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func addrPad(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

func domainSeparator(name, version string, chainID *big.Int, contract common.Address) common.Hash {
	enc := make([]byte, 5*32)
	copy(enc[0:32], domainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(name)))
	copy(enc[64:96], crypto.Keccak256([]byte(version)))
	copy(enc[96:128], pad32(chainID))
	copy(enc[128:160], addrPad(contract))
	return crypto.Keccak256Hash(enc)
}

func authorizationHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	enc := make([]byte, 7*32)
	copy(enc[0:32], authTypeHash.Bytes())
	copy(enc[32:64], addrPad(from))
	copy(enc[64:96], addrPad(to))
	copy(enc[96:128], pad32(value))
	copy(enc[128:160], pad32(validAfter))
	copy(enc[160:192], pad32(validBefore))
	copy(enc[192:224], nonce[:])
	return crypto.Keccak256Hash(enc)
}

// VerifiedAuthorization is the decoded, validated form of Authorization
// ready to hand to a Facilitator for settlement.
type VerifiedAuthorization struct {
	From, To                    common.Address
	Value, ValidAfter, ValidBefore *big.Int
	Nonce                        [32]byte
	Signature                    []byte
}

// Verify recovers the signer of auth under the stablecoin contract's
// EIP-712 domain and checks it against the payment requirements (spec
// §4.3 "Verification contract").
func Verify(auth Authorization, req Requirement, contract common.Address, chainID *big.Int, now time.Time) (*VerifiedAuthorization, error) {
	value := mustAtomic(auth.Value)
	validAfter := mustAtomic(auth.ValidAfter)
	validBefore := mustAtomic(auth.ValidBefore)

	if now.Unix() < validAfter.Int64() || now.Unix() > validBefore.Int64() {
		return nil, fmt.Errorf("gasless: authorization outside validity window")
	}

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		return nil, fmt.Errorf("gasless: nonce must be a 32-byte hex value")
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	from := common.HexToAddress(auth.From)
	to := common.HexToAddress(auth.To)

	ds := domainSeparator(req.ExtraName, req.ExtraVersion, chainID, contract)
	ah := authorizationHash(from, to, value, validAfter, validBefore, nonce)
	digest := crypto.Keccak256Hash(append([]byte{0x19, 0x01}, append(ds.Bytes(), ah.Bytes()...)...))

	sig, err := hex.DecodeString(strings.TrimPrefix(auth.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("gasless: malformed signature")
	}
	sigForRecover := append([]byte(nil), sig...)
	if sigForRecover[64] >= 27 {
		sigForRecover[64] -= 27
	}

	pubBytes, err := crypto.Ecrecover(digest.Bytes(), sigForRecover)
	if err != nil {
		return nil, fmt.Errorf("gasless: ecrecover: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("gasless: unmarshal recovered pubkey: %w", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != from {
		return nil, fmt.Errorf("gasless: signature recovers to %s, authorization claims %s", recovered.Hex(), from.Hex())
	}

	payTo := common.HexToAddress(req.PayTo)
	if to != payTo {
		return nil, fmt.Errorf("gasless: authorization.to does not match configured payee")
	}

	required := mustAtomic(req.Amount)
	if value.Cmp(required) < 0 {
		return nil, fmt.Errorf("gasless: authorized value %s below required %s", value, required)
	}

	return &VerifiedAuthorization{
		From: from, To: to, Value: value, ValidAfter: validAfter, ValidBefore: validBefore,
		Nonce: nonce, Signature: sig,
	}, nil
}
