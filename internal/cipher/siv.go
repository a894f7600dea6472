package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/subtle"
	"fmt"

	"enprot/internal/policy"
)

const (
	sivKeyLen   = 64 // two 32-byte AES-256 keys: S2V (k1) and CTR (k2)
	sivBlockLen = 16
)

// sivCipher implements RFC 5297 AES-SIV: a nonce-misuse-resistant AEAD built
// from CMAC-based S2V and AES-CTR. enprot treats it as an IV-less cipher
// (the synthetic IV is carried in the ciphertext itself), which is why its
// algorithm name is excluded from the "needs an IV" check in the Prot layer.
type sivCipher struct {
	direction Direction
}

func (c *sivCipher) Alg() string    { return "aes-256-siv" }
func (c *sivCipher) NonceLen() int  { return 0 }
func (c *sivCipher) KeyLenMin() int { return sivKeyLen }
func (c *sivCipher) KeyLenMax() int { return sivKeyLen }

func (c *sivCipher) Process(key, iv, ad, data []byte, pol policy.Policy) ([]byte, error) {
	return checkAndRun(pol, c.Alg(), key, iv, ad, func() ([]byte, error) {
		if len(key) != sivKeyLen {
			return nil, fmt.Errorf("aes-256-siv requires a %d-byte key, got %d", sivKeyLen, len(key))
		}
		macBlock, err := aes.NewCipher(key[:32])
		if err != nil {
			return nil, fmt.Errorf("create S2V block cipher: %w", err)
		}
		ctrBlock, err := aes.NewCipher(key[32:])
		if err != nil {
			return nil, fmt.Errorf("create CTR block cipher: %w", err)
		}

		if c.direction == Encrypt {
			siv := s2v(macBlock, data, ad)
			ct := make([]byte, len(data))
			sivCTR(ctrBlock, siv, data, ct)
			out := make([]byte, sivBlockLen+len(ct))
			copy(out, siv)
			copy(out[sivBlockLen:], ct)
			return out, nil
		}

		if len(data) < sivBlockLen {
			return nil, fmt.Errorf("ciphertext shorter than SIV block")
		}
		siv, ct := data[:sivBlockLen], data[sivBlockLen:]
		pt := make([]byte, len(ct))
		sivCTR(ctrBlock, siv, ct, pt)
		expected := s2v(macBlock, pt, ad)
		if subtle.ConstantTimeCompare(siv, expected) != 1 {
			return nil, fmt.Errorf("SIV mismatch: authentication failed")
		}
		return pt, nil
	})
}

// s2v implements the S2V construction: an interleaved CMAC over the
// associated-data vector and the payload, per RFC 5297 section 2.4.
func s2v(block stdcipher.Block, payload []byte, ad []byte) []byte {
	d := cmac(block, make([]byte, sivBlockLen))
	if len(ad) > 0 {
		d = xorBytes(dbl(d), cmac(block, ad))
	}

	var t []byte
	if len(payload) >= sivBlockLen {
		t = append([]byte(nil), payload...)
		xorInPlace(t[len(t)-sivBlockLen:], d)
	} else {
		t = xorBytes(dbl(d), pad(payload))
	}
	return cmac(block, t)
}

// sivCTR runs AES-CTR with the top bit of the 32nd and 64th bits of the IV
// cleared, per RFC 5297 section 2.5 ("zeroing out the top bit in each of
// the last two 32-bit words").
func sivCTR(block stdcipher.Block, siv, src, dst []byte) {
	ctr := append([]byte(nil), siv...)
	ctr[8] &= 0x7f
	ctr[12] &= 0x7f
	stream := stdcipher.NewCTR(block, ctr)
	stream.XORKeyStream(dst, src)
}

// cmac is AES-CMAC (NIST SP 800-38B / RFC 4493), used as the PRF inside S2V.
func cmac(block stdcipher.Block, data []byte) []byte {
	k1, k2 := cmacSubkeys(block)

	n := (len(data) + sivBlockLen - 1) / sivBlockLen
	complete := len(data) > 0 && len(data)%sivBlockLen == 0
	if n == 0 {
		n = 1
	}

	last := make([]byte, sivBlockLen)
	if complete {
		copy(last, data[(n-1)*sivBlockLen:])
		xorInPlace(last, k1)
	} else {
		tail := data[(n-1)*sivBlockLen:]
		if len(data) == 0 {
			tail = nil
		}
		copy(last, pad(tail))
		xorInPlace(last, k2)
	}

	mac := make([]byte, sivBlockLen)
	for i := 0; i < n-1; i++ {
		chunk := data[i*sivBlockLen : (i+1)*sivBlockLen]
		xorInPlace(mac, chunk)
		block.Encrypt(mac, mac)
	}
	xorInPlace(mac, last)
	block.Encrypt(mac, mac)
	return mac
}

func cmacSubkeys(block stdcipher.Block) ([]byte, []byte) {
	l := make([]byte, sivBlockLen)
	block.Encrypt(l, l)
	k1 := dbl(l)
	k2 := dbl(k1)
	return k1, k2
}

// dbl doubles a 128-bit value in GF(2^128) with the polynomial used by
// CMAC and S2V (x^128 + x^7 + x^2 + x + 1).
func dbl(in []byte) []byte {
	out := make([]byte, sivBlockLen)
	var carry byte
	for i := sivBlockLen - 1; i >= 0; i-- {
		v := in[i]
		out[i] = (v << 1) | carry
		carry = v >> 7
	}
	if in[0]&0x80 != 0 {
		out[sivBlockLen-1] ^= 0x87
	}
	return out
}

func pad(data []byte) []byte {
	out := make([]byte, sivBlockLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func xorInPlace(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
