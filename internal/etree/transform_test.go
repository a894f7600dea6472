package etree

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func TestTransformIdentityWithNoOperations(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Transform(tree, ops)
	if err != nil {
		t.Fatal(err)
	}
	if Write(out, ops) != sampleText {
		t.Fatal("transform with empty operation sets must leave the tree unchanged")
	}
}

func TestTransformStoreUnknownKeywordUnchanged(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	ops.Store["noexist"] = true

	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Transform(tree, ops)
	if err != nil {
		t.Fatal(err)
	}
	if Write(out, ops) != sampleText {
		t.Fatal("store of a keyword absent from the tree must not change anything")
	}
}

func TestTransformStoreAgent007(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	ops.Store["Agent_007"] = true

	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Transform(tree, ops)
	if err != nil {
		t.Fatal(err)
	}

	written := Write(out, ops)
	if strings.Contains(written, "James Bond") {
		t.Fatal("stored region should no longer appear inline")
	}
	if !strings.Contains(written, "STORED Agent_007") {
		t.Fatal("expected a STORED directive for Agent_007")
	}

	// re-parsing the output must succeed and round-trip.
	reparsed, err := Parse(bytes.NewReader([]byte(written)), ops)
	if err != nil {
		t.Fatal(err)
	}
	if Write(reparsed, ops) != written {
		t.Fatal("stored output did not round-trip through a second parse")
	}

	const jamesBondHash = "d094e230861eb0ab43b895b8ecdeeb9e3a7e4a88239341a81da832ac181feaab"
	blob, err := ops.CAS.Load(jamesBondHash)
	if err != nil {
		t.Fatalf("expected James Bond blob under its content hash: %v", err)
	}
	if string(blob) != "James Bond\n" {
		t.Fatalf("unexpected stored content: %q", blob)
	}
}

func TestTransformStoreThenFetchGEHEIM(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}

	ops.Store["GEHEIM"] = true
	stored, err := Transform(tree, ops)
	if err != nil {
		t.Fatal(err)
	}
	storedText := Write(stored, ops)
	if strings.Contains(storedText, "Secret line 1") {
		t.Fatal("GEHEIM region should no longer appear inline after store")
	}

	ops.Store = map[string]bool{}
	ops.Fetch["GEHEIM"] = true
	fetched, err := Transform(stored, ops)
	if err != nil {
		t.Fatal(err)
	}
	if Write(fetched, ops) != sampleText {
		t.Fatal("store followed by fetch must reconstruct the original text")
	}
}

func TestTransformEncryptDecryptGEHEIM(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	ops.PBKDF.Alg = "legacy"
	ops.Encrypt["GEHEIM"] = true
	ops.Passwords["GEHEIM"] = "password"

	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}
	encrypted, err := Transform(tree, ops)
	if err != nil {
		t.Fatal(err)
	}
	encText := Write(encrypted, ops)
	if strings.Contains(encText, "Secret line 1") {
		t.Fatal("encrypted region must not leak plaintext")
	}
	if !strings.Contains(encText, "ENCRYPTED GEHEIM") {
		t.Fatal("expected an ENCRYPTED directive for GEHEIM")
	}

	reparsed, err := Parse(bytes.NewReader([]byte(encText)), ops)
	if err != nil {
		t.Fatal(err)
	}
	if Write(reparsed, ops) != encText {
		t.Fatal("encrypted output did not round-trip through a second parse")
	}

	ops.Encrypt = map[string]bool{}
	ops.Decrypt["GEHEIM"] = true
	decrypted, err := Transform(reparsed, ops)
	if err != nil {
		t.Fatal(err)
	}
	if Write(decrypted, ops) != sampleText {
		t.Fatal("encrypt followed by decrypt must reconstruct the original text")
	}
}

func TestTransformEncryptStoreDecryptAgent007(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	ops.PBKDF.Alg = "legacy"
	ops.Encrypt["Agent_007"] = true
	ops.Store["Agent_007"] = true
	ops.Passwords["Agent_007"] = "password"

	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Transform(tree, ops)
	if err != nil {
		t.Fatal(err)
	}
	written := Write(out, ops)
	if strings.Contains(written, "James Bond") {
		t.Fatal("encrypt+store region must not leak plaintext or ciphertext inline")
	}
	if !regexp.MustCompile(`ENCRYPTED Agent_007 [0-9a-f]{64}`).MatchString(written) {
		t.Fatalf("expected a single-line ENCRYPTED Agent_007 directive carrying the ciphertext's CAS hash, got:\n%s", written)
	}

	reparsed, err := Parse(bytes.NewReader([]byte(written)), ops)
	if err != nil {
		t.Fatal(err)
	}

	ops.Encrypt = map[string]bool{}
	ops.Store = map[string]bool{}
	ops.Decrypt["Agent_007"] = true
	decrypted, err := Transform(reparsed, ops)
	if err != nil {
		t.Fatal(err)
	}
	if Write(decrypted, ops) != sampleText {
		t.Fatal("encrypt+store followed by decrypt must reconstruct the original text")
	}
}

func TestTransformPromptsAndMemoizesPassword(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	ops.PBKDF.Alg = "legacy"
	ops.Encrypt["Agent_007"] = true

	calls := 0
	ops.Prompt = func(keyword string, confirm bool) (string, error) {
		calls++
		if keyword != "Agent_007" {
			t.Fatalf("unexpected prompt for keyword %q", keyword)
		}
		if !confirm {
			t.Fatal("encrypting a fresh region must prompt with confirmation")
		}
		return "secret-agent-password", nil
	}

	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Transform(tree, ops); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one prompt call, got %d", calls)
	}
	if ops.Passwords["Agent_007"] != "secret-agent-password" {
		t.Fatal("prompted password was not memoized into ops.Passwords")
	}
}

func TestTransformDepthExceeded(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	ops.MaxDepth = 1

	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}
	ops.level = 2
	if _, err := Transform(tree, ops); err == nil {
		t.Fatal("expected depth-exceeded error")
	}
}
