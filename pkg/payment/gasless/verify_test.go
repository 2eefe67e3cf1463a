package gasless

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	testContractAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testChainID      = big.NewInt(8453)
)

func signAuthorization(t *testing.T, to, value, validAfter, validBefore string, nonce [32]byte) Authorization {
	t.Helper()
	key, err := crypto.HexToECDSA(testSigningKey)
	require.NoError(t, err)

	fromAddr := crypto.PubkeyToAddress(key.PublicKey)
	toAddr := common.HexToAddress(to)

	ds := domainSeparator("USD Coin", "2", testChainID, testContractAddr)
	ah := authorizationHash(fromAddr, toAddr, mustAtomic(value), mustAtomic(validAfter), mustAtomic(validBefore), nonce)
	digest := crypto.Keccak256Hash(append([]byte{0x19, 0x01}, append(ds.Bytes(), ah.Bytes()...)...))

	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27

	return Authorization{
		From: fromAddr.Hex(), To: toAddr.Hex(), Value: value,
		ValidAfter: validAfter, ValidBefore: validBefore,
		Nonce: fmt.Sprintf("0x%x", nonce), Signature: fmt.Sprintf("0x%x", sig),
	}
}

func TestVerify_AcceptsValidAuthorization(t *testing.T) {
	payee := "0x0000000000000000000000000000000000000002"
	var nonce [32]byte
	nonce[31] = 1

	auth := signAuthorization(t, payee, "1000000", "0", "9999999999", nonce)
	req := Requirement{PayTo: payee, Amount: "1000000", ExtraName: "USD Coin", ExtraVersion: "2"}

	verified, err := Verify(auth, req, testContractAddr, testChainID, time.Unix(100, 0))
	require.NoError(t, err)
	assert.Equal(t, auth.From, verified.From.Hex())
}

func TestVerify_RejectsExpiredAuthorization(t *testing.T) {
	payee := "0x0000000000000000000000000000000000000002"
	var nonce [32]byte
	nonce[31] = 2

	auth := signAuthorization(t, payee, "1000000", "0", "100", nonce)
	req := Requirement{PayTo: payee, Amount: "1000000", ExtraName: "USD Coin", ExtraVersion: "2"}

	_, err := Verify(auth, req, testContractAddr, testChainID, time.Unix(200, 0))
	assert.Error(t, err)
}

func TestVerify_RejectsInsufficientAmount(t *testing.T) {
	payee := "0x0000000000000000000000000000000000000002"
	var nonce [32]byte
	nonce[31] = 3

	auth := signAuthorization(t, payee, "500", "0", "9999999999", nonce)
	req := Requirement{PayTo: payee, Amount: "1000000", ExtraName: "USD Coin", ExtraVersion: "2"}

	_, err := Verify(auth, req, testContractAddr, testChainID, time.Unix(100, 0))
	assert.Error(t, err)
}

func TestVerify_RejectsWrongPayee(t *testing.T) {
	var nonce [32]byte
	nonce[31] = 4

	auth := signAuthorization(t, "0x0000000000000000000000000000000000000002", "1000000", "0", "9999999999", nonce)
	req := Requirement{PayTo: "0x0000000000000000000000000000000000000009", Amount: "1000000", ExtraName: "USD Coin", ExtraVersion: "2"}

	_, err := Verify(auth, req, testContractAddr, testChainID, time.Unix(100, 0))
	assert.Error(t, err)
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	payee := "0x0000000000000000000000000000000000000002"
	var nonce [32]byte
	nonce[31] = 5

	auth := signAuthorization(t, payee, "1000000", "0", "9999999999", nonce)
	auth.Value = "2000000" // tamper with signed amount post-signing
	req := Requirement{PayTo: payee, Amount: "1000000", ExtraName: "USD Coin", ExtraVersion: "2"}

	_, err := Verify(auth, req, testContractAddr, testChainID, time.Unix(100, 0))
	assert.Error(t, err)
}
