package hipcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:staticcheck // 3DES-CBC is one of the negotiable HIP transforms
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is the fixed HIP integrity transform
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// TransformID identifies a HIP symmetric transform suite.
// AES-CBC/SHA1, 3DES-CBC/SHA1 and NULL/SHA1 are required; 3DES/MD5 and
// BLOWFISH/SHA1 are recognized but optional and not implemented here —
// no HID in this repository's test fixtures negotiates them, and they
// fall outside this daemon's supported crypto suites.
type TransformID uint16

const (
	TransformReserved TransformID = 0
	TransformAESCBC   TransformID = 1
	Transform3DESCBC  TransformID = 2
	TransformNULL     TransformID = 4
)

// ivLen returns the block size / IV length for a transform: 16 for AES,
// 8 for 3DES, 0 for NULL (the I2 ENCRYPTED parameter's contents).
func ivLen(t TransformID) int {
	switch t {
	case TransformAESCBC:
		return aes.BlockSize
	case Transform3DESCBC:
		return des.BlockSize
	case TransformNULL:
		return 0
	default:
		return -1
	}
}

// EncryptCBC encrypts plaintext under the given transform and key,
// generating a fresh random IV, returning iv||ciphertext. Padding to the
// cipher's block size (PKCS#7-style 1..pad_len bytes, matching the ESP
// padding rules) is the caller's responsibility — this function requires block-aligned
// input for CBC transforms and passes NULL plaintext straight through.
func EncryptCBC(t TransformID, key, plaintext []byte) ([]byte, error) {
	if t == TransformNULL {
		return append([]byte{}, plaintext...), nil
	}
	block, err := newBlockCipher(t, key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.EncryptCBC", err)
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.EncryptCBC", fmt.Errorf("plaintext length %d not block-aligned", len(plaintext)))
	}
	out := make([]byte, len(iv)+len(plaintext))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], plaintext)
	return out, nil
}

// DecryptCBC reverses EncryptCBC given iv||ciphertext.
func DecryptCBC(t TransformID, key, ivCiphertext []byte) ([]byte, error) {
	if t == TransformNULL {
		return append([]byte{}, ivCiphertext...), nil
	}
	block, err := newBlockCipher(t, key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(ivCiphertext) < bs || (len(ivCiphertext)-bs)%bs != 0 {
		return nil, hiperr.New(hiperr.KindMalformed, "hipcrypto.DecryptCBC", fmt.Errorf("ciphertext length %d invalid for block size %d", len(ivCiphertext), bs))
	}
	iv := ivCiphertext[:bs]
	ct := ivCiphertext[bs:]
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return out, nil
}

func newBlockCipher(t TransformID, key []byte) (cipher.Block, error) {
	switch t {
	case TransformAESCBC:
		b, err := aes.NewCipher(key)
		if err != nil {
			return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.newBlockCipher", err)
		}
		return b, nil
	case Transform3DESCBC:
		b, err := des.NewTripleDESCipher(key)
		if err != nil {
			return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.newBlockCipher", err)
		}
		return b, nil
	default:
		return nil, hiperr.New(hiperr.KindUnsupportedCritical, "hipcrypto.newBlockCipher", fmt.Errorf("unsupported transform %d", t))
	}
}

// Pad applies PKCS#7-style padding: pad bytes are 1..pad_len,
// aligned to the IV length for block ciphers, 4-aligned for NULL.
func Pad(t TransformID, data []byte) []byte {
	align := ivLen(t)
	if align <= 0 {
		align = 4
	}
	padLen := align - (len(data) % align)
	if padLen == 0 {
		padLen = align
	}
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := 0; i < padLen; i++ {
		out[len(data)+i] = byte(i + 1)
	}
	return out
}

// Unpad reverses Pad, validating the trailing 1..pad_len run.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, hiperr.New(hiperr.KindMalformed, "hipcrypto.Unpad", fmt.Errorf("empty data"))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, hiperr.New(hiperr.KindMalformed, "hipcrypto.Unpad", fmt.Errorf("invalid pad length %d", padLen))
	}
	for i := 0; i < padLen; i++ {
		if data[len(data)-1-i] != byte(padLen-i) {
			return nil, hiperr.New(hiperr.KindMalformed, "hipcrypto.Unpad", fmt.Errorf("corrupt padding"))
		}
	}
	return data[:len(data)-padLen], nil
}

// HMACSHA1 computes the HMAC-SHA1 the HMAC/HMAC2 parameters use (20
// bytes, untruncated) and, with Truncate12, the 12-byte ESP
// authentication form.
func HMACSHA1(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key) //nolint:gosec
	mac.Write(data)
	return mac.Sum(nil)
}

// Truncate12 truncates a 20-byte HMAC-SHA1 to the 12-byte ESP
// authentication form used regardless of ESP suite.
func Truncate12(mac []byte) []byte {
	if len(mac) < 12 {
		return mac
	}
	return mac[:12]
}
