package policy

import (
	"testing"

	enerrors "enprot/internal/errors"
)

func TestDefaultAllowsEverything(t *testing.T) {
	p := Default{}
	if err := p.CheckCipher("aes-256-siv", nil, nil, nil); err != nil {
		t.Errorf("default policy should allow aes-256-siv: %v", err)
	}
	if err := p.CheckPBKDF("argon2", 32, "x", nil, nil); err != nil {
		t.Errorf("default policy should allow argon2: %v", err)
	}
	if p.DefaultCipherAlg() != "aes-256-siv" {
		t.Errorf("expected default cipher aes-256-siv, got %s", p.DefaultCipherAlg())
	}
}

func TestNISTRejectsSIV(t *testing.T) {
	p := NIST{}
	err := p.CheckCipher("aes-256-siv", nil, nil, nil)
	if err == nil {
		t.Fatal("expected NIST policy to reject aes-256-siv")
	}
	if !enerrors.IsPolicyRejected(err) {
		t.Error("expected policy-rejected sentinel")
	}
}

func TestNISTRejectsArgon2AndScryptAndLegacy(t *testing.T) {
	p := NIST{}
	for _, alg := range []string{"argon2", "scrypt", "legacy"} {
		if err := p.CheckPBKDF(alg, 32, "x", make([]byte, 32), nil); err == nil {
			t.Errorf("expected NIST policy to reject pbkdf alg %s", alg)
		}
	}
}

func TestNISTGCMIVLength(t *testing.T) {
	p := NIST{}
	if err := p.CheckCipher("aes-256-gcm", nil, make([]byte, 12), nil); err != nil {
		t.Errorf("expected 12-byte IV to be accepted: %v", err)
	}
	if err := p.CheckCipher("aes-256-gcm", nil, make([]byte, 16), nil); err == nil {
		t.Error("expected non-12-byte IV to be rejected for aes-256-gcm under NIST")
	}
}

func TestNISTMinSaltAndKeyLen(t *testing.T) {
	p := NIST{}
	if err := p.CheckPBKDF("pbkdf2-sha256", 32, "x", make([]byte, 8), nil); err == nil {
		t.Error("expected short salt to be rejected")
	}
	if err := p.CheckPBKDF("pbkdf2-sha256", 10, "x", make([]byte, 16), nil); err == nil {
		t.Error("expected short key length to be rejected")
	}
}

func TestNISTMinIterations(t *testing.T) {
	p := NIST{}
	params := map[string]int{"i": 500}
	if err := p.CheckPBKDF("pbkdf2-sha256", 32, "x", make([]byte, 32), params); err == nil {
		t.Error("expected low iteration count to be rejected")
	}
}

func TestNamed(t *testing.T) {
	if _, err := Named("default"); err != nil {
		t.Error(err)
	}
	if _, err := Named("nist"); err != nil {
		t.Error(err)
	}
	if _, err := Named("bogus"); err == nil {
		t.Error("expected error for unknown policy name")
	}
}
