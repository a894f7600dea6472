// Package prot composes the KDF and cipher layers into the two operations
// the transform actually needs: seal a plaintext region under a password,
// and open it back up given the metadata the seal step produced.
package prot

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"enprot/internal/cipher"
	enerrors "enprot/internal/errors"
	"enprot/internal/kdf"
	"enprot/internal/policy"
	"enprot/internal/util"
)

// PBKDFOptions mirrors the etree package's PBKDFOptions but lives here too
// so prot has no import-cycle back to etree; etree's options are converted
// to this shape at the call site.
type PBKDFOptions struct {
	Alg     string
	SaltLen int
	Salt    []byte
	Msec    *int
	Params  map[string]int
}

// CipherOptions selects the cipher algorithm and, for IV-using ciphers, an
// explicit IV (nil means "generate one").
type CipherOptions struct {
	Alg string
	IV  []byte
}

// Ext carries the extension-field metadata a seal produces and an open
// consumes: the PHC-encoded KDF parameters and the cipher-with-IV string.
type Ext struct {
	PBKDF  string // empty if not present
	Cipher string // empty if not present
}

// Seal derives a key for password per pbkdfOpts, encrypts pt under the
// chosen cipher, and returns the ciphertext plus the extension metadata to
// round-trip through an ENCRYPTED directive.
func Seal(pt []byte, password string, pbkdfOpts PBKDFOptions, cipherOpts CipherOptions, cache *kdf.Cache, pol policy.Policy) ([]byte, Ext, error) {
	enc, err := cipher.New(cipherOpts.Alg, cipher.Encrypt)
	if err != nil {
		return nil, Ext{}, err
	}

	res, err := kdf.Derive(password, enc.KeyLenMin(), toKDFOptions(pbkdfOpts), cache, pol)
	if err != nil {
		return nil, Ext{}, err
	}

	var ext Ext
	if res.PHC != "" {
		ext.PBKDF = res.PHC
	}

	var iv []byte
	if !strings.HasSuffix(cipherOpts.Alg, "siv") {
		iv = cipherOpts.IV
		if iv == nil {
			iv = make([]byte, enc.NonceLen())
			if _, err := rand.Read(iv); err != nil {
				return nil, Ext{}, enerrors.NewCipherError("encrypt", cipherOpts.Alg, fmt.Errorf("read iv: %w", err))
			}
		}
		ext.Cipher = fmt.Sprintf("%s$iv=%s", cipherOpts.Alg, util.Base64Encode(iv))
	} else if cipherOpts.IV != nil {
		return nil, Ext{}, enerrors.NewValidationError("cipher.iv", "IV must not be set for an SIV-family cipher")
	}

	ct, err := enc.Process(res.Key, iv, nil, pt, pol)
	if err != nil {
		return nil, Ext{}, err
	}
	return ct, ext, nil
}

// Open reverses Seal: given ciphertext and the extension metadata that was
// attached when it was sealed, derive the same key and recover the
// plaintext, or fail with an authentication error ("bad password?").
func Open(ct []byte, password string, ext Ext, cache *kdf.Cache, pol policy.Policy) ([]byte, error) {
	alg, iv, err := parseCipherMeta(ext.Cipher)
	if err != nil {
		return nil, err
	}

	dec, err := cipher.New(alg, cipher.Decrypt)
	if err != nil {
		return nil, err
	}

	pbkdfOpts, err := parsePBKDFMeta(ext.PBKDF)
	if err != nil {
		return nil, err
	}

	res, err := kdf.Derive(password, dec.KeyLenMin(), toKDFOptions(pbkdfOpts), cache, pol)
	if err != nil {
		return nil, err
	}

	pt, err := dec.Process(res.Key, iv, nil, ct, pol)
	if err != nil {
		return nil, enerrors.Wrap(enerrors.ErrAuthFailed, "bad password?")
	}
	return pt, nil
}

func toKDFOptions(o PBKDFOptions) kdf.Options {
	return kdf.Options{Alg: o.Alg, Salt: o.Salt, SaltLen: o.SaltLen, Msec: o.Msec, Params: o.Params}
}

// parseCipherMeta parses a "<alg>$iv=<base64>" extension string. An empty
// string is the backward-compatible default: aes-256-siv with no IV.
func parseCipherMeta(meta string) (alg string, iv []byte, err error) {
	if meta == "" {
		return "aes-256-siv", nil, nil
	}

	parts := strings.SplitN(meta, "$", 2)
	alg = parts[0]
	if len(parts) == 1 {
		return alg, nil, nil
	}

	for _, kv := range strings.Split(parts[1], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return "", nil, enerrors.NewValidationError("cipher", "malformed extension field: "+kv)
		}
		if k == "iv" {
			iv, err = util.Base64Decode(v)
			if err != nil {
				return "", nil, enerrors.NewValidationError("cipher.iv", "invalid base64: "+err.Error())
			}
		}
	}
	return alg, iv, nil
}

// parsePBKDFMeta parses a PHC string "$alg$k=v,k=v$b64salt" into a manual-
// mode PBKDFOptions. An empty string means "legacy" (no PHC was recorded).
func parsePBKDFMeta(phc string) (PBKDFOptions, error) {
	if phc == "" {
		return PBKDFOptions{Alg: "legacy"}, nil
	}

	fields := strings.Split(phc, "$")
	// fields[0] is empty (leading '$'); fields[1]=alg; fields[2]=params; fields[3]=salt
	if len(fields) != 4 || fields[0] != "" {
		return PBKDFOptions{}, enerrors.NewValidationError("pbkdf", "malformed PHC string: "+phc)
	}

	alg := fields[1]
	params := map[string]int{}
	if fields[2] != "" {
		for _, kv := range strings.Split(fields[2], ",") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return PBKDFOptions{}, enerrors.NewValidationError("pbkdf", "malformed parameter: "+kv)
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return PBKDFOptions{}, enerrors.NewValidationError("pbkdf", "non-numeric parameter value: "+v)
			}
			params[k] = n
		}
	}

	salt, err := util.Base64Decode(fields[3])
	if err != nil {
		return PBKDFOptions{}, enerrors.NewValidationError("pbkdf", "invalid base64 salt: "+err.Error())
	}

	return PBKDFOptions{Alg: alg, Salt: salt, Params: params}, nil
}
