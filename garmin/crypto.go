package garmin

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation.
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// sealSaltLen is the length of the per-blob scrypt salt.
	sealSaltLen = 16
)

// Cipher seals and opens token documents for at-rest encryption.
// Sealed layout: [16-byte salt][12-byte nonce][ciphertext+GCM tag].
// The key is derived per blob from the passphrase and the stored salt, so
// every Seal produces an independent key and there is no key file to manage.
type Cipher struct {
	passphrase []byte
}

// NewCipher creates a cipher from a passphrase. The passphrase is
// normalized to NFKC so the same visible string always derives the same
// key regardless of how the terminal composed it.
func NewCipher(passphrase string) *Cipher {
	return &Cipher{passphrase: []byte(norm.NFKC.String(passphrase))}
}

func (c *Cipher) gcm(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under a fresh salt and nonce.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := c.gcm(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	return out, nil
}

// Open decrypts a sealed blob. A wrong passphrase or tampered blob fails
// the GCM tag check and returns an error.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < sealSaltLen {
		return nil, fmt.Errorf("sealed blob too short: %d bytes", len(data))
	}

	salt := data[:sealSaltLen]

	gcm, err := c.gcm(salt)
	if err != nil {
		return nil, err
	}

	rest := data[sealSaltLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short: %d bytes", len(data))
	}

	nonce := rest[:gcm.NonceSize()]
	ciphertext := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	return plaintext, nil
}
