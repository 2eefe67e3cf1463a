package envelope

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func buildSigned(t *testing.T, scheme Scheme, owner []byte, signFn func(base []byte) []byte, tags []Tag, payload []byte) *Envelope {
	t.Helper()
	sigLen := lengths[scheme].sigLen
	placeholder := make([]byte, sigLen)
	unsigned := Build(scheme, placeholder, owner, nil, nil, tags, payload)
	base := unsigned[1+sigLen:]
	sig := signFn(base)
	raw := Build(scheme, sig, owner, nil, nil, tags, payload)
	env, err := parseBytes(raw)
	require.NoError(t, err)
	return env
}

func TestEd25519_ParseAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	env := buildSigned(t, SchemeEd25519, pub, func(base []byte) []byte {
		return ed25519.Sign(priv, base)
	}, []Tag{{Name: "Content-Type", Value: "text/plain"}}, []byte("hello world"))

	addr, err := Verify(env)
	require.NoError(t, err)
	require.NotEmpty(t, addr)
	require.Equal(t, []byte("hello world"), env.Payload)
	ct, ok := env.Tag("Content-Type")
	require.True(t, ok)
	require.Equal(t, "text/plain", ct)
}

func TestEd25519_TamperedPayloadFailsVerification(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	env := buildSigned(t, SchemeEd25519, pub, func(base []byte) []byte {
		return ed25519.Sign(priv, base)
	}, nil, []byte("original"))

	env.Payload = []byte("tampered")
	env.Raw = Build(env.Scheme, env.Signature, env.Owner, env.Target, env.Anchor, env.Tags, env.Payload)

	_, err = Verify(env)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestECDSASecp256k1_ParseAndVerify(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pubBytes := crypto.FromECDSAPub(&priv.PublicKey)

	env := buildSigned(t, SchemeECDSASecp256k1, pubBytes, func(base []byte) []byte {
		digest := crypto.Keccak256(base)
		sig, err := crypto.Sign(digest, priv)
		require.NoError(t, err)
		return sig
	}, nil, []byte("payload"))

	addr, err := Verify(env)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(priv.PublicKey).Hex(), addr)
}

func TestParse_RejectsEmptyBody(t *testing.T) {
	_, err := Parse(bytes.NewReader(nil), 0)
	require.Error(t, err)
}

func TestParse_RejectsUnknownScheme(t *testing.T) {
	raw := []byte{99, 1, 2, 3}
	_, err := Parse(bytes.NewReader(raw), 0)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestContentID_IsStableOverSignatureBytes(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	env := buildSigned(t, SchemeEd25519, pub, func(base []byte) []byte {
		return ed25519.Sign(priv, base)
	}, nil, []byte("x"))

	id1 := ComputeContentID(env)
	id2 := ComputeContentID(env)
	require.Equal(t, id1, id2)
}
