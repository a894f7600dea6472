// Package kdf implements password-based key derivation: five algorithms
// behind one entry point, PHC-string parameter encoding, and a per-process
// memoization cache so a password typed once is not re-derived for every
// keyword in a run.
package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"

	enerrors "enprot/internal/errors"
	"enprot/internal/log"
	"enprot/internal/policy"
	"enprot/internal/util"
)

// Calibration parameters for the timed derivation algorithms. These are
// fixed rather than policy-controlled: only the cost knob (iterations,
// argon2 passes, scrypt cost) is tuned against the wall clock.
const (
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	scryptR       = 8
	scryptP       = 1
	maxTuneSteps  = 20
)

// Options describes a single key-derivation request, mirroring the
// parameters an ENCRYPTED directive's pbkdf extension field round-trips.
type Options struct {
	Alg     string         // "argon2", "scrypt", "pbkdf2-sha256", "pbkdf2-sha512", "legacy"
	Salt    []byte         // explicit salt; if nil, SaltLen bytes are drawn from the RNG
	SaltLen int            // used only when Salt is nil
	Msec    *int           // set → timed mode; nil together with Params → manual mode
	Params  map[string]int // set → manual mode with these exact cost parameters
}

// Result is what derive returns: the key bytes and, for every algorithm
// except legacy, a PHC string encoding the algorithm, parameters and salt.
type Result struct {
	Key []byte
	PHC string // empty for legacy
}

// cacheKey identifies a memoized derivation. Manual-mode entries include
// their parameter set in the key; timed-mode entries are keyed by the
// requested duration instead, and adopt whatever salt/params the first
// derivation settled on.
type cacheKey struct {
	password string
	alg      string
	keyLen   int
	msec     int
	params   string // canonical "k=v,k=v" form, empty for timed mode
}

type cacheEntry struct {
	salt   []byte
	key    []byte
	params map[string]int
}

// Cache memoizes derivations within a single process run. It is not
// persisted and carries no secrets beyond what the caller already knows
// (the password that produced an entry).
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCache returns an empty cache. A nil *Cache disables memoization.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *Cache) lookup(k cacheKey) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	return e, ok
}

func (c *Cache) store(k cacheKey, e cacheEntry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = e
}

func paramsKey(params map[string]int) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, params[k])
	}
	return strings.Join(parts, ",")
}

// formatPHC renders "$alg$k=v,k=v$base64(salt)" with parameter keys sorted
// lexicographically for canonical output.
func formatPHC(alg string, params map[string]int, salt []byte) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, params[k])
	}
	return fmt.Sprintf("$%s$%s$%s", alg, strings.Join(parts, ","), util.Base64Encode(salt))
}

// Derive computes a key for password under opts, consulting pol before and
// after any cost-parameter tuning, and memoizing the result in cache (which
// may be nil to disable memoization).
func Derive(password string, keyLen int, opts Options, cache *Cache, pol policy.Policy) (Result, error) {
	if opts.Alg == "legacy" {
		return deriveLegacy(password, keyLen, pol)
	}

	salt := opts.Salt
	if salt == nil {
		salt = make([]byte, opts.SaltLen)
		if _, err := rand.Read(salt); err != nil {
			return Result{}, enerrors.NewKDFError("derive", opts.Alg, fmt.Errorf("read salt: %w", err))
		}
	}

	if opts.Params != nil {
		return deriveManual(password, keyLen, opts, salt, cache, pol)
	}
	return deriveTimed(password, keyLen, opts, salt, cache, pol)
}

func deriveLegacy(password string, keyLen int, pol policy.Policy) (Result, error) {
	if err := pol.CheckPBKDF("sha3-512", keyLen, password, nil, nil); err != nil {
		return Result{}, err
	}
	sum := sha3.Sum512([]byte(password))
	if keyLen > len(sum) {
		return Result{}, enerrors.NewKDFError("derive", "legacy", fmt.Errorf("requested key length %d exceeds sha3-512 output", keyLen))
	}
	return Result{Key: append([]byte(nil), sum[:keyLen]...)}, nil
}

func deriveManual(password string, keyLen int, opts Options, salt []byte, cache *Cache, pol policy.Policy) (Result, error) {
	if err := pol.CheckPBKDF(opts.Alg, keyLen, password, salt, opts.Params); err != nil {
		return Result{}, err
	}

	key := cacheKey{password: password, alg: opts.Alg, keyLen: keyLen, msec: 0, params: paramsKey(opts.Params)}
	if e, ok := cache.lookup(key); ok {
		return Result{Key: e.key, PHC: formatPHC(opts.Alg, e.params, e.salt)}, nil
	}

	derived, err := deriveWithParams(opts.Alg, password, salt, opts.Params, keyLen)
	if err != nil {
		return Result{}, enerrors.NewKDFError("derive", opts.Alg, err)
	}

	cache.store(key, cacheEntry{salt: salt, key: derived, params: opts.Params})
	return Result{Key: derived, PHC: formatPHC(opts.Alg, opts.Params, salt)}, nil
}

func deriveTimed(password string, keyLen int, opts Options, salt []byte, cache *Cache, pol policy.Policy) (Result, error) {
	if opts.Msec == nil {
		return Result{}, enerrors.NewKDFError("derive", opts.Alg, fmt.Errorf("neither params nor msec given"))
	}
	if err := pol.CheckPBKDF(opts.Alg, keyLen, password, salt, nil); err != nil {
		return Result{}, err
	}

	key := cacheKey{password: password, alg: opts.Alg, keyLen: keyLen, msec: *opts.Msec}
	if e, ok := cache.lookup(key); ok {
		return Result{Key: e.key, PHC: formatPHC(opts.Alg, e.params, e.salt)}, nil
	}

	derivedKey, params, err := tune(opts.Alg, password, salt, *opts.Msec, keyLen)
	if err != nil {
		return Result{}, enerrors.NewKDFError("derive", opts.Alg, err)
	}
	if err := pol.CheckPBKDF(opts.Alg, keyLen, password, salt, params); err != nil {
		return Result{}, err
	}

	cache.store(key, cacheEntry{salt: salt, key: derivedKey, params: params})
	log.Debug("kdf.derive: tuned parameters", log.String("alg", opts.Alg), log.Int("msec", *opts.Msec))
	return Result{Key: derivedKey, PHC: formatPHC(opts.Alg, params, salt)}, nil
}

// deriveWithParams runs one of the four non-legacy algorithms with an
// explicit, already-chosen cost parameter set.
func deriveWithParams(alg, password string, salt []byte, params map[string]int, keyLen int) ([]byte, error) {
	switch alg {
	case "argon2":
		t, m, p := params["t"], params["m"], params["p"]
		return argon2.IDKey([]byte(password), salt, uint32(t), uint32(m), uint8(p), uint32(keyLen)), nil
	case "scrypt":
		ln, r, p := params["ln"], params["r"], params["p"]
		return scrypt.Key([]byte(password), salt, 1<<uint(ln), r, p, keyLen)
	case "pbkdf2-sha256":
		return pbkdf2.Key([]byte(password), salt, params["i"], keyLen, sha256.New), nil
	case "pbkdf2-sha512":
		return pbkdf2.Key([]byte(password), salt, params["i"], keyLen, sha512.New), nil
	default:
		return nil, enerrors.ErrUnknownAlg
	}
}

// tune picks a cost parameter for alg that makes a single derivation take
// approximately msec milliseconds, then derives with it. It calibrates by
// doubling the cost knob until the measured duration reaches the target,
// capped at maxTuneSteps iterations to guarantee termination.
func tune(alg, password string, salt []byte, msec, keyLen int) ([]byte, map[string]int, error) {
	target := time.Duration(msec) * time.Millisecond

	switch alg {
	case "argon2":
		t := 1
		for step := 0; step < maxTuneSteps; step++ {
			start := time.Now()
			key := argon2.IDKey([]byte(password), salt, uint32(t), argon2Memory, argon2Threads, uint32(keyLen))
			elapsed := time.Since(start)
			if elapsed >= target || step == maxTuneSteps-1 {
				return key, map[string]int{"t": t, "p": argon2Threads, "m": argon2Memory}, nil
			}
			t *= 2
		}
		return nil, nil, fmt.Errorf("argon2 tuning did not converge")

	case "scrypt":
		ln := 10
		for step := 0; step < maxTuneSteps; step++ {
			start := time.Now()
			key, err := scrypt.Key([]byte(password), salt, 1<<uint(ln), scryptR, scryptP, keyLen)
			if err != nil {
				return nil, nil, err
			}
			elapsed := time.Since(start)
			if elapsed >= target || step == maxTuneSteps-1 {
				return key, map[string]int{"ln": ln, "r": scryptR, "p": scryptP}, nil
			}
			ln++
		}
		return nil, nil, fmt.Errorf("scrypt tuning did not converge")

	case "pbkdf2-sha256", "pbkdf2-sha512":
		h := sha256.New
		if alg == "pbkdf2-sha512" {
			h = sha512.New
		}
		i := 1000
		for step := 0; step < maxTuneSteps; step++ {
			start := time.Now()
			key := pbkdf2.Key([]byte(password), salt, i, keyLen, h)
			elapsed := time.Since(start)
			if elapsed >= target || step == maxTuneSteps-1 {
				return key, map[string]int{"i": i}, nil
			}
			i *= 2
		}
		return nil, nil, fmt.Errorf("%s tuning did not converge", alg)

	default:
		return nil, nil, enerrors.ErrUnknownAlg
	}
}
