// Package crypto implements the per-connection channel cipher: AES-128 in
// CFB mode with a 128-bit segment size and PKCS#7 padding, hex-encoded on
// the wire. It matches the CryptoJS configuration used by the browser
// client (CryptoJS.mode.CFB + CryptoJS.pad.Pkcs7, 16-byte key and IV).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the length in bytes of both the key and the IV.
const KeySize = 16

var (
	// ErrBadPadding indicates the decrypted plaintext does not end in
	// valid PKCS#7 padding.
	ErrBadPadding = errors.New("input is not padded or padding is corrupt")
	// ErrBadCiphertext indicates the ciphertext is not valid block-aligned hex.
	ErrBadCiphertext = errors.New("ciphertext is not valid block-aligned hex")
)

// GenerateKeys returns a fresh 16-byte key and IV. Called exactly once per
// connection, at open time.
func GenerateKeys() (key, iv []byte, err error) {
	buf := make([]byte, 2*KeySize)
	if _, err := rand.Read(buf); err != nil {
		return nil, nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	return buf[:KeySize], buf[KeySize:], nil
}

// pad appends PKCS#7 padding, always adding at least one byte.
func pad(plaintext []byte) []byte {
	padSize := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padSize)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padSize)
	}
	return padded
}

// unpad strips PKCS#7 padding.
func unpad(padded []byte) ([]byte, error) {
	if len(padded) == 0 {
		return nil, ErrBadPadding
	}
	padSize := int(padded[len(padded)-1])
	if padSize == 0 || padSize > aes.BlockSize || padSize > len(padded) {
		return nil, ErrBadPadding
	}
	return padded[:len(padded)-padSize], nil
}

// cfbBlocks runs full-segment CFB over src. CFB with a 128-bit segment is
// not the stdlib's CFB8/CFB128 stream; each 16-byte segment is produced by
// encrypting the previous ciphertext segment and XORing with the input.
func cfbBlocks(block cipher.Block, iv, src []byte, decrypt bool) []byte {
	dst := make([]byte, len(src))
	prev := make([]byte, aes.BlockSize)
	copy(prev, iv)
	keystream := make([]byte, aes.BlockSize)

	for off := 0; off < len(src); off += aes.BlockSize {
		block.Encrypt(keystream, prev)
		for i := 0; i < aes.BlockSize; i++ {
			dst[off+i] = src[off+i] ^ keystream[i]
		}
		if decrypt {
			copy(prev, src[off:off+aes.BlockSize])
		} else {
			copy(prev, dst[off:off+aes.BlockSize])
		}
	}
	return dst
}

// Encrypt pads plaintext with PKCS#7, encrypts it with AES-CFB (128-bit
// segments) under key/iv, and returns the ciphertext hex-encoded.
func Encrypt(plaintext, key, iv []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	ciphertext := cfbBlocks(block, iv, pad(plaintext), false)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt is the inverse of Encrypt. It returns ErrBadCiphertext for hex
// input that is odd-length, non-hex, or not block-aligned, and
// ErrBadPadding if the decrypted plaintext carries corrupt padding.
func Decrypt(ciphertextHex string, key, iv []byte) ([]byte, error) {
	if len(ciphertextHex) == 0 || len(ciphertextHex)%2 != 0 || len(ciphertextHex)%(2*aes.BlockSize) != 0 {
		return nil, ErrBadCiphertext
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return unpad(cfbBlocks(block, iv, ciphertext, true))
}
