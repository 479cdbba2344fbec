// Package crypto implements the encrypted-collection-file envelope: salt,
// IV, and ciphertext framing derived from a shared passphrase (spec §4.A,
// §6.1). It generalizes the teacher's auth/security.go AES helpers from
// AES-GCM to the spec-mandated AES-256-CBC with PKCS#7 padding.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"tdbx/src/tdberr"
)

const (
	saltSize      = 16
	ivSize        = 16
	keySize       = 32
	pbkdf2Rounds  = 100_000
	fieldSepChar  = ":"
)

// Encrypt wraps plaintext as the three-field salt:iv:ciphertext envelope
// described in spec §4.A/§6.1, using a freshly generated salt and IV.
func Encrypt(plaintext []byte, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", tdberr.Encryption(err, "generating salt")
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", tdberr.Encryption(err, "generating iv")
	}

	key := deriveKeyPBKDF2(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", tdberr.Encryption(err, "creating cipher")
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(ciphertext),
	}, fieldSepChar), nil
}

// Decrypt accepts either the current three-field envelope or the legacy
// two-field iv:ct form (spec §4.A "Compatibility note"), returning the
// plaintext bytes.
func Decrypt(envelope string, passphrase string) ([]byte, error) {
	fields := strings.Split(envelope, fieldSepChar)

	var key, iv, ciphertext []byte
	var err error

	switch len(fields) {
	case 3:
		salt, e := hex.DecodeString(fields[0])
		if e != nil {
			return nil, tdberr.Decryption(e, "decoding salt")
		}
		if len(salt) != saltSize {
			return nil, tdberr.Decryption(nil, "salt has wrong length: %d", len(salt))
		}
		iv, err = hex.DecodeString(fields[1])
		if err != nil {
			return nil, tdberr.Decryption(err, "decoding iv")
		}
		ciphertext, err = hex.DecodeString(fields[2])
		if err != nil {
			return nil, tdberr.Decryption(err, "decoding ciphertext")
		}
		key = deriveKeyPBKDF2(passphrase, salt)
	case 2:
		iv, err = hex.DecodeString(fields[0])
		if err != nil {
			return nil, tdberr.Decryption(err, "decoding iv")
		}
		ciphertext, err = hex.DecodeString(fields[1])
		if err != nil {
			return nil, tdberr.Decryption(err, "decoding ciphertext")
		}
		key = deriveKeyLegacySHA256(passphrase)
	default:
		return nil, tdberr.Decryption(nil, "envelope has %d fields, want 2 or 3", len(fields))
	}

	if len(iv) != ivSize {
		return nil, tdberr.Decryption(nil, "iv has wrong length: %d", len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, tdberr.Decryption(err, "creating cipher")
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, tdberr.Decryption(nil, "ciphertext is not a multiple of the block size")
	}

	plaintextPadded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plaintextPadded, ciphertext)

	plaintext, err := pkcs7Unpad(plaintextPadded, block.BlockSize())
	if err != nil {
		return nil, tdberr.Decryption(err, "removing padding")
	}

	return plaintext, nil
}

func deriveKeyPBKDF2(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, keySize, sha256.New)
}

func deriveKeyLegacySHA256(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded data length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
