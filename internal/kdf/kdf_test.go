package kdf

import (
	"strings"
	"testing"

	"enprot/internal/policy"
)

func TestDeriveLegacy(t *testing.T) {
	res, err := Derive("hunter2", 32, Options{Alg: "legacy"}, nil, policy.Default{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Key) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(res.Key))
	}
	if res.PHC != "" {
		t.Errorf("legacy derivation should not produce a PHC string, got %q", res.PHC)
	}
}

func TestDeriveManualPBKDF2PHCFormat(t *testing.T) {
	salt := make([]byte, 16)
	opts := Options{Alg: "pbkdf2-sha256", Salt: salt, Params: map[string]int{"i": 1000}}

	res, err := Derive("hunter2", 32, opts, nil, policy.Default{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.PHC, "$pbkdf2-sha256$i=1000$") {
		t.Errorf("unexpected PHC string: %s", res.PHC)
	}
	if len(res.Key) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(res.Key))
	}
}

func TestDeriveManualPHCParamsSortedLexicographically(t *testing.T) {
	salt := make([]byte, 16)
	opts := Options{Alg: "argon2", Salt: salt, Params: map[string]int{"t": 2, "p": 1, "m": 65536}}

	res, err := Derive("hunter2", 32, opts, nil, policy.Default{})
	if err != nil {
		t.Fatal(err)
	}
	// keys m, p, t in lexicographic order regardless of map insertion order
	if !strings.Contains(res.PHC, "$m=65536,p=1,t=2$") {
		t.Errorf("expected lexicographically sorted params, got %s", res.PHC)
	}
}

func TestDeriveCacheHitReturnsSameKey(t *testing.T) {
	cache := NewCache()
	opts := Options{Alg: "pbkdf2-sha256", Salt: make([]byte, 16), Params: map[string]int{"i": 1000}}

	r1, err := Derive("hunter2", 32, opts, cache, policy.Default{})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Derive("hunter2", 32, opts, cache, policy.Default{})
	if err != nil {
		t.Fatal(err)
	}
	if string(r1.Key) != string(r2.Key) {
		t.Error("expected cache hit to return identical key")
	}
}

func TestDeriveRejectsUnderNISTPolicy(t *testing.T) {
	opts := Options{Alg: "argon2", Salt: make([]byte, 32), Params: map[string]int{"t": 2, "p": 1, "m": 65536}}
	if _, err := Derive("hunter2", 32, opts, nil, policy.NIST{}); err == nil {
		t.Fatal("expected NIST policy to reject argon2")
	}
}

func TestDeriveRandomSaltWhenNoneGiven(t *testing.T) {
	opts := Options{Alg: "pbkdf2-sha256", SaltLen: 16, Params: map[string]int{"i": 1000}}
	res, err := Derive("hunter2", 16, opts, nil, policy.Default{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Key) != 16 {
		t.Errorf("expected 16-byte key, got %d", len(res.Key))
	}
}
