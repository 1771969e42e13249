package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox("unit-test-encryption-key")
	require.NoError(t, err)

	sealed, err := box.Seal("sk-vendor-secret")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sk-vendor-secret")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-vendor-secret", opened)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	alice, err := NewBox("key-one")
	require.NoError(t, err)
	bob, err := NewBox("key-two")
	require.NoError(t, err)

	sealed, err := alice.Seal("secret")
	require.NoError(t, err)

	_, err = bob.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsGarbage(t *testing.T) {
	box, err := NewBox("key")
	require.NoError(t, err)

	_, err = box.Open("not base64 at all!!!")
	assert.Error(t, err)

	_, err = box.Open("c2hvcnQ=") // valid base64, too short for a nonce
	assert.Error(t, err)
}

func TestNewBoxRequiresKey(t *testing.T) {
	_, err := NewBox("")
	assert.Error(t, err)
}
