// Package policy implements the crypto-capability checks that gate every
// key derivation and cipher operation before it runs.
package policy

import (
	"fmt"

	enerrors "enprot/internal/errors"
)

// Policy is a capability check for algorithm choice plus a set of
// defaulting queries. It is consulted before any cryptographic operation
// and before any derived parameter is used.
type Policy interface {
	// CheckHash reports whether alg may be used as a digest algorithm.
	CheckHash(alg string) error
	// CheckPBKDF reports whether a password derivation with the given
	// algorithm, key length, salt and parameters is permitted.
	CheckPBKDF(alg string, keyLen int, password string, salt []byte, params map[string]int) error
	// CheckCipher reports whether a cipher operation with the given
	// algorithm, key, IV and associated data is permitted.
	CheckCipher(alg string, key, iv, ad []byte) error

	DefaultPBKDFAlg() string
	DefaultPBKDFSaltLength() int
	DefaultPBKDFMillis() int
	DefaultCipherAlg() string
}

// rejected wraps a reason with the policy sentinel so callers can use
// errors.Is(err, errors.ErrPolicyRejected).
func rejected(format string, args ...any) error {
	return enerrors.Wrap(enerrors.ErrPolicyRejected, fmt.Sprintf(format, args...))
}

// Default is the permissive policy: every algorithm named by the engine
// is allowed, and defaults favor strength over interoperability.
type Default struct{}

const (
	defaultPBKDFAlg     = "argon2"
	defaultPBKDFSaltLen = 16
	defaultPBKDFMillis  = 100
	defaultCipherAlg    = "aes-256-siv"
)

func (Default) CheckHash(alg string) error { return nil }

func (Default) CheckPBKDF(alg string, keyLen int, password string, salt []byte, params map[string]int) error {
	return nil
}

func (Default) CheckCipher(alg string, key, iv, ad []byte) error { return nil }

func (Default) DefaultPBKDFAlg() string        { return defaultPBKDFAlg }
func (Default) DefaultPBKDFSaltLength() int    { return defaultPBKDFSaltLen }
func (Default) DefaultPBKDFMillis() int        { return defaultPBKDFMillis }
func (Default) DefaultCipherAlg() string       { return defaultCipherAlg }

// NIST is the restrictive policy: only FIPS/NIST-approved primitives and
// parameter ranges are permitted.
type NIST struct{}

const (
	nistPBKDFAlg     = "pbkdf2-sha512"
	nistPBKDFSaltLen = 32
	nistPBKDFMillis  = 100
	nistCipherAlg    = "aes-256-gcm"
	nistMinSaltLen   = 16
	nistMinKeyLen    = 14
	nistMinPBKDF2Its = 1000
	nistGCMIVLen     = 12
)

var nistApprovedPBKDFs = map[string]bool{
	"pbkdf2-sha256": true,
	"pbkdf2-sha512": true,
}

var nistApprovedCiphers = map[string]bool{
	"aes-256-gcm": true,
}

var nistApprovedHashes = map[string]bool{
	"sha3-256": true,
	"sha3-512": true,
}

func (NIST) CheckHash(alg string) error {
	if !nistApprovedHashes[alg] {
		return rejected("hash algorithm is not permitted by policy: %s", alg)
	}
	return nil
}

func (NIST) CheckPBKDF(alg string, keyLen int, password string, salt []byte, params map[string]int) error {
	if !nistApprovedPBKDFs[alg] {
		return rejected("PBKDF algorithm is not permitted by policy: %s", alg)
	}
	if len(salt) > 0 && len(salt) < nistMinSaltLen {
		return rejected("salt length violates policy: got %d, need >= %d", len(salt), nistMinSaltLen)
	}
	if keyLen < nistMinKeyLen {
		return rejected("key length violates policy: got %d, need >= %d", keyLen, nistMinKeyLen)
	}
	if iters, ok := params["i"]; ok && iters < nistMinPBKDF2Its {
		return rejected("iteration count violates policy: got %d, need >= %d", iters, nistMinPBKDF2Its)
	}
	return nil
}

func (NIST) CheckCipher(alg string, key, iv, ad []byte) error {
	if !nistApprovedCiphers[alg] {
		return rejected("cipher algorithm is not permitted by policy: %s", alg)
	}
	if alg == "aes-256-gcm" && len(iv) > 0 && len(iv) != nistGCMIVLen {
		return rejected("IV length does not match NIST recommendations for this cipher: got %d, need %d", len(iv), nistGCMIVLen)
	}
	return nil
}

func (NIST) DefaultPBKDFAlg() string     { return nistPBKDFAlg }
func (NIST) DefaultPBKDFSaltLength() int { return nistPBKDFSaltLen }
func (NIST) DefaultPBKDFMillis() int     { return nistPBKDFMillis }
func (NIST) DefaultCipherAlg() string    { return nistCipherAlg }

// Named resolves a policy by its CLI name ("default" or "nist").
func Named(name string) (Policy, error) {
	switch name {
	case "", "default":
		return Default{}, nil
	case "nist":
		return NIST{}, nil
	default:
		return nil, enerrors.NewValidationError("policy", "unknown policy: "+name)
	}
}
