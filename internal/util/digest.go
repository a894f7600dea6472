// Package util holds small stateless helpers shared across the engine:
// digests, base64/hex codecs, and hex-hash validation.
package util

import (
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Digest computes a message digest using the named algorithm.
// Only "sha3-256" and "sha3-512" are recognized; this mirrors the narrow
// set of hash algorithms the rest of the engine ever asks for (content
// addressing and the legacy PBKDF path).
func Digest(alg string, data []byte) ([]byte, error) {
	switch alg {
	case "sha3-256":
		sum := sha3.Sum256(data)
		return sum[:], nil
	case "sha3-512":
		sum := sha3.Sum512(data)
		return sum[:], nil
	default:
		return nil, errUnknownDigest(alg)
	}
}

// HexDigest computes a digest and returns it as lowercase hex.
func HexDigest(alg string, data []byte) (string, error) {
	d, err := Digest(alg, data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d), nil
}

// Base64Encode encodes data using standard padded base64.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode decodes standard padded base64.
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// HexEncode encodes data as lowercase hex.
func HexEncode(data []byte) string {
	return hex.EncodeToString(data)
}

// HexDecode decodes a lowercase hex string.
func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// IsValidHexHash reports whether s is exactly n hex characters, lowercase.
func IsValidHexHash(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

type unknownDigestError string

func (e unknownDigestError) Error() string { return "unknown digest algorithm: " + string(e) }

func errUnknownDigest(alg string) error { return unknownDigestError(alg) }
