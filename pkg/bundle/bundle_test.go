package bundle

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/certen/bundler-gateway/pkg/envelope"
	"github.com/stretchr/testify/require"
)

func signedEnvelope(t *testing.T, payload []byte) []byte {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	placeholder := make([]byte, 64)
	unsigned := envelope.Build(envelope.SchemeEd25519, placeholder, pub, nil, nil,
		[]envelope.Tag{{Name: "Content-Type", Value: "application/octet-stream"}}, payload)
	sig := ed25519.Sign(priv, unsigned[1+64:])
	return envelope.Build(envelope.SchemeEd25519, sig, pub, nil, nil,
		[]envelope.Tag{{Name: "Content-Type", Value: "application/octet-stream"}}, payload)
}

func TestBuildAndParseHeader_RoundTrips(t *testing.T) {
	raws := [][]byte{
		signedEnvelope(t, []byte("first item")),
		signedEnvelope(t, []byte("second item, a bit longer")),
		signedEnvelope(t, []byte("third")),
	}
	items := make([]Item, len(raws))
	for i, raw := range raws {
		env, err := envelope.Parse(bytes.NewReader(raw), int64(len(raw)))
		require.NoError(t, err)
		items[i] = Item{ContentID: envelope.ComputeContentID(env), Raw: raw}
	}

	payload, offsets, err := Build(items)
	require.NoError(t, err)
	require.Len(t, offsets, 3)

	entries, bodyStart, err := ParseHeader(payload)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	decoded, err := Items(payload, entries, bodyStart)
	require.NoError(t, err)
	for i, raw := range raws {
		require.Equal(t, raw, decoded[i])
		require.True(t, ValidOffset(offsets[i], int64(len(payload))))
	}
}

func TestBuild_RejectsEmpty(t *testing.T) {
	_, _, err := Build(nil)
	require.Error(t, err)
}
