package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"fmt"

	"enprot/internal/policy"
)

const (
	gcmKeyLen   = 32
	gcmNonceLen = 12
)

// gcmCipher wraps the standard library's AES-256-GCM. It is the only
// cipher in this package not hand-rolled: crypto/cipher already implements
// GCM correctly and there is no reason to duplicate it.
type gcmCipher struct {
	direction Direction
}

func (c *gcmCipher) Alg() string    { return "aes-256-gcm" }
func (c *gcmCipher) NonceLen() int  { return gcmNonceLen }
func (c *gcmCipher) KeyLenMin() int { return gcmKeyLen }
func (c *gcmCipher) KeyLenMax() int { return gcmKeyLen }

func (c *gcmCipher) Process(key, iv, ad, data []byte, pol policy.Policy) ([]byte, error) {
	return checkAndRun(pol, c.Alg(), key, iv, ad, func() ([]byte, error) {
		if len(key) != gcmKeyLen {
			return nil, fmt.Errorf("aes-256-gcm requires a %d-byte key, got %d", gcmKeyLen, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create AES block cipher: %w", err)
		}
		gcm, err := stdcipher.NewGCMWithNonceSize(block, len(iv))
		if err != nil {
			return nil, fmt.Errorf("create GCM: %w", err)
		}

		if c.direction == Encrypt {
			return gcm.Seal(nil, iv, data, ad), nil
		}
		pt, err := gcm.Open(nil, iv, data, ad)
		if err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
		return pt, nil
	})
}
