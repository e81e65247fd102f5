// Package decrypt turns encrypted segment payloads back into plain media bytes.
package decrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"strings"

	"github.com/agleyzer/hlsaudio/internal/segment"
)

// ErrDecryption reports a segment that could not be decrypted.
var ErrDecryption = errors.New("decryption failed")

// ErrMissingKey is returned when an encrypted segment has no key material.
var ErrMissingKey = fmt.Errorf("%w: missing key", ErrDecryption)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

// Padding selects how trailing block padding is handled after decryption.
type Padding int

const (
	// PaddingNone returns the decrypted blocks unchanged.
	PaddingNone Padding = iota
	// PaddingPKCS7 requires and strips valid PKCS#7 padding.
	PaddingPKCS7
	// PaddingAuto strips PKCS#7 padding when the final block carries it.
	PaddingAuto
)

func (p Padding) String() string {
	switch p {
	case PaddingPKCS7:
		return "pkcs7"
	case PaddingAuto:
		return "auto"
	default:
		return "none"
	}
}

// ParsePadding maps a configuration value to a Padding mode.
func ParsePadding(s string) (Padding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PaddingNone, nil
	case "pkcs7":
		return PaddingPKCS7, nil
	case "auto":
		return PaddingAuto, nil
	default:
		return PaddingNone, fmt.Errorf("unknown padding mode %q", s)
	}
}

// Decrypt returns the plain bytes of one segment.
//
// Unencrypted segments are returned as-is. AES-128 segments are decrypted in
// CBC mode with the given key and IV.
func Decrypt(method segment.Method, data, key, iv []byte, padding Padding) ([]byte, error) {
	switch method {
	case segment.MethodNone:
		return data, nil
	case segment.MethodAES128:
	default:
		return nil, fmt.Errorf("%w: unsupported method %s", ErrDecryption, method)
	}

	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrDecryption, KeySize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d", ErrDecryption, aes.BlockSize, len(iv))
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrDecryption, len(data), aes.BlockSize)
	}
	if len(data) == 0 {
		return []byte{}, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	switch padding {
	case PaddingPKCS7:
		unpadded, ok := unpad(out)
		if !ok {
			return nil, fmt.Errorf("%w: invalid PKCS#7 padding", ErrDecryption)
		}
		return unpadded, nil
	case PaddingAuto:
		if unpadded, ok := unpad(out); ok {
			return unpadded, nil
		}
	}
	return out, nil
}

func unpad(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, false
	}
	if !bytes.Equal(data[len(data)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, false
	}
	return data[:len(data)-n], true
}
