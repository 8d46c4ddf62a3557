package envelope

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genX25519(t *testing.T) (secret, public []byte) {
	t.Helper()
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv.Bytes(), priv.PublicKey().Bytes()
}

func TestSealOpenRoundTrip(t *testing.T) {
	aliceSecret, alicePublic := genX25519(t)
	bobSecret, bobPublic := genX25519(t)

	plaintext := []byte(`{"type":"https://didcomm.org/trust-ping/1.0/ping"}`)
	aad := []byte(`{"from":"alice","to":["bob"],"kid":"alice-kid"}`)

	sealed, err := Seal(aliceSecret, bobPublic, plaintext, aad, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sealed.Ciphertext)
	assert.NotEmpty(t, sealed.Signature)

	opened, err := Open(bobSecret, alicePublic, sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealNotIdempotent(t *testing.T) {
	aliceSecret, _ := genX25519(t)
	_, bobPublic := genX25519(t)

	plaintext := []byte(`{"hello":"world"}`)
	aad := []byte(`aad`)

	first, err := Seal(aliceSecret, bobPublic, plaintext, aad, nil)
	require.NoError(t, err)
	second, err := Seal(aliceSecret, bobPublic, plaintext, aad, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Ciphertext, second.Ciphertext, "fresh nonce each call must change ciphertext")
	assert.NotEqual(t, first.Signature, second.Signature, "fresh ephemeral signing key each call must change signature")
}

// TestOpenTamperDetection is scenario S4: altering any byte of ciphertext,
// iv, from, to, or kid must cause Open to fail with ErrInvalid, since those
// fields are either AEAD input or part of the signed transcript (aad).
func TestOpenTamperDetection(t *testing.T) {
	aliceSecret, alicePublic := genX25519(t)
	bobSecret, bobPublic := genX25519(t)

	plaintext := []byte(`{"type":"https://didcomm.org/issue-credential/1.0/issue-credential"}`)
	aad := []byte(`{"from":"alice","to":["bob"],"kid":"alice-kid"}`)

	sealed, err := Seal(aliceSecret, bobPublic, plaintext, aad, nil)
	require.NoError(t, err)

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := *sealed
		tampered.Ciphertext = append([]byte(nil), sealed.Ciphertext...)
		tampered.Ciphertext[0] ^= 0xFF
		_, err := Open(bobSecret, alicePublic, &tampered, aad)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("tampered iv", func(t *testing.T) {
		tampered := *sealed
		tampered.IV = append([]byte(nil), sealed.IV...)
		tampered.IV[0] ^= 0xFF
		_, err := Open(bobSecret, alicePublic, &tampered, aad)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("tampered aad (from/to/kid)", func(t *testing.T) {
		tamperedAAD := append([]byte(nil), aad...)
		tamperedAAD[len(tamperedAAD)-2] ^= 0xFF
		_, err := Open(bobSecret, alicePublic, sealed, tamperedAAD)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := *sealed
		tampered.Signature = append([]byte(nil), sealed.Signature...)
		tampered.Signature[0] ^= 0xFF
		_, err := Open(bobSecret, alicePublic, &tampered, aad)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	aliceSecret, _ := genX25519(t)
	_, bobPublic := genX25519(t)
	wrongSecret, _ := genX25519(t)

	plaintext := []byte(`{"hello":"world"}`)
	aad := []byte(`aad`)

	sealed, err := Seal(aliceSecret, bobPublic, plaintext, aad, nil)
	require.NoError(t, err)

	_, err = Open(wrongSecret, bobPublic, sealed, aad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestKeyIDIsDeterministicHex(t *testing.T) {
	_, pub := genX25519(t)
	assert.Equal(t, KeyID(pub), KeyID(pub))
	assert.Len(t, KeyID(pub), len(pub)*2)
}
