package oid

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	o, err := Random(OidTypeNode)
	require.NoError(t, err)

	parsed, err := FromString(o.String())
	require.NoError(t, err)
	require.True(t, o.Equal(parsed))
	require.Equal(t, OidType(OidTypeNode), parsed.Type())
}

func TestFromPublicKeyDeterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	a, err := FromPublicKey(pub)
	require.NoError(t, err)
	b, err := FromPublicKey(pub)
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c, err := FromPublicKey(other)
	require.NoError(t, err)
	require.False(t, a.Equal(c))
}

func TestFromPublicKeyRejectsBadLength(t *testing.T) {
	_, err := FromPublicKey([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrorInvalidOidFormat)
}

func TestTopicsDifferFromNodeIDs(t *testing.T) {
	topic, err := FromTopic("headcount/v1")
	require.NoError(t, err)
	require.Equal(t, OidType(OidTypeTopic), topic.Type())

	again, err := FromTopic("headcount/v1")
	require.NoError(t, err)
	require.True(t, topic.Equal(again))
}

func TestFromStringRejectsGarbage(t *testing.T) {
	_, err := FromString("not-base32!")
	require.Error(t, err)

	// Valid base32 but wrong structure
	_, err = FromString("MFRGG===")
	require.Error(t, err)
}
