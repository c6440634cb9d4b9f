package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGenerateKeys(t *testing.T) {
	key, iv, err := GenerateKeys()
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
	assert.Len(t, iv, KeySize)
	assert.NotEqual(t, key, iv)

	key2, iv2, err := GenerateKeys()
	require.NoError(t, err)
	assert.NotEqual(t, key, key2)
	assert.NotEqual(t, iv, iv2)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, iv, err := GenerateKeys()
	require.NoError(t, err)

	plaintext := []byte("hello there")
	ciphertext, err := Encrypt(plaintext, key, iv)
	require.NoError(t, err)

	// Ciphertext is lowercase hex, block-aligned
	assert.Zero(t, len(ciphertext)%32)
	_, err = hex.DecodeString(ciphertext)
	require.NoError(t, err)

	decrypted, err := Decrypt(ciphertext, key, iv)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

// Round-trip holds for arbitrary byte strings and arbitrary key/iv pairs.
func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOfN(rapid.Byte(), KeySize, KeySize).Draw(t, "key")
		iv := rapid.SliceOfN(rapid.Byte(), KeySize, KeySize).Draw(t, "iv")
		plaintext := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "plaintext")

		ciphertext, err := Encrypt(plaintext, key, iv)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		decrypted, err := Decrypt(ciphertext, key, iv)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if string(decrypted) != string(plaintext) {
			t.Fatalf("round-trip mismatch: got %x, want %x", decrypted, plaintext)
		}
	})
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	key, iv, err := GenerateKeys()
	require.NoError(t, err)

	// Empty plaintext still produces one full padding block
	ciphertext, err := Encrypt(nil, key, iv)
	require.NoError(t, err)
	assert.Len(t, ciphertext, 32)

	decrypted, err := Decrypt(ciphertext, key, iv)
	require.NoError(t, err)
	assert.Empty(t, decrypted)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	key, iv, err := GenerateKeys()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"odd length", strings.Repeat("a", 31)},
		{"not block aligned", strings.Repeat("ab", 8)},
		{"not hex", strings.Repeat("zz", 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.input, key, iv)
			assert.ErrorIs(t, err, ErrBadCiphertext)
		})
	}
}

func TestDecryptRejectsCorruptPadding(t *testing.T) {
	key, iv, err := GenerateKeys()
	require.NoError(t, err)

	// A random ciphertext block decrypts to garbage; if the final byte
	// exceeds the block size the padding must be rejected, not sliced.
	ciphertext, err := Encrypt([]byte("some message"), key, iv)
	require.NoError(t, err)

	// Decrypting with the wrong key almost always produces bad padding;
	// either outcome must be an error-or-garbage, never a panic.
	wrongKey := make([]byte, KeySize)
	_, _ = Decrypt(ciphertext, wrongKey, iv)
}

func TestUnpadBounds(t *testing.T) {
	_, err := unpad([]byte{1, 2, 3, 17})
	assert.ErrorIs(t, err, ErrBadPadding)

	_, err = unpad([]byte{0})
	assert.ErrorIs(t, err, ErrBadPadding)

	out, err := unpad([]byte{'a', 'b', 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), out)
}
