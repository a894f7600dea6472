// Package etree implements the annotated-text engine: the line-oriented
// parser that turns a file into a TextTree, the unparser that turns a
// TextTree back into text, and the transform traversal that drives
// store/fetch/encrypt/decrypt through the CAS and Prot layers.
package etree

import (
	"enprot/internal/cas"
	"enprot/internal/kdf"
	"enprot/internal/policy"
)

// Kind tags which variant a Node holds. Go has no sum types, so Node is a
// single struct with the fields each kind needs; unused fields are zero.
type Kind int

const (
	KindPlain Kind = iota
	KindData
	KindStored
	KindEncrypted
	KindBeginEnd
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "Plain"
	case KindData:
		return "Data"
	case KindStored:
		return "Stored"
	case KindEncrypted:
		return "Encrypted"
	case KindBeginEnd:
		return "BeginEnd"
	default:
		return "Unknown"
	}
}

// Node is one element of a Tree.
//
//   - Plain:     Text
//   - Data:      Bytes
//   - Stored:    Keyword, Hash
//   - Encrypted: Keyword, Inner (len 1, Data or Stored), PBKDF, Cipher
//   - BeginEnd:  Keyword, Inner
type Node struct {
	Kind    Kind
	Text    string
	Bytes   []byte
	Keyword string
	Hash    string
	Inner   Tree
	PBKDF   string
	Cipher  string
}

// Tree is an ordered sequence of nodes.
type Tree []Node

const (
	// DefaultLeftSep and DefaultRightSep bracket a directive line.
	DefaultLeftSep  = "// <("
	DefaultRightSep = ")>"

	// DefaultMaxDepth bounds recursive parse/transform calls; 0 means
	// unbounded.
	DefaultMaxDepth = 100

	// DataBytesPerLine is the raw-byte chunk size for a single DATA line
	// (roughly 64 base64 characters).
	DataBytesPerLine = 48
)

// PBKDFOptions is the default key-derivation configuration a run applies
// when encrypting a region, unless overridden per call.
type PBKDFOptions struct {
	Alg     string
	SaltLen int
	Salt    []byte
	Msec    *int
	Params  map[string]int
}

// CipherOptions is the default cipher configuration a run applies when
// encrypting a region.
type CipherOptions struct {
	Alg string
	IV  []byte
}

// PasswordPrompter resolves the password for a keyword, optionally asking
// for confirmation (used when first setting a password for encryption).
// The CLI driver supplies the real interactive implementation; tests
// supply a stub.
type PasswordPrompter func(keyword string, confirm bool) (string, error)

// ParseOps is the mutable configuration and state shared across one run:
// constructed by the driver, threaded through every parse/transform call,
// and mutated as passwords get resolved and recursion depth changes.
type ParseOps struct {
	LeftSep  string
	RightSep string

	Store   map[string]bool
	Fetch   map[string]bool
	Encrypt map[string]bool
	Decrypt map[string]bool

	Passwords map[string]string
	Prompt    PasswordPrompter

	FName    string
	Verbose  bool
	MaxDepth int

	CAS    *cas.Store
	PBKDF  PBKDFOptions
	Cipher CipherOptions

	Cache  *kdf.Cache
	Policy policy.Policy

	level int
}

// NewParseOps returns a ParseOps with the engine's defaults: standard
// separators, unbounded name sets, the Default policy, argon2/aes-256-siv,
// and a fresh KDF cache.
func NewParseOps(casDir string) *ParseOps {
	msec := policy.Default{}.DefaultPBKDFMillis()
	return &ParseOps{
		LeftSep:   DefaultLeftSep,
		RightSep:  DefaultRightSep,
		Store:     map[string]bool{},
		Fetch:     map[string]bool{},
		Encrypt:   map[string]bool{},
		Decrypt:   map[string]bool{},
		Passwords: map[string]string{},
		MaxDepth:  DefaultMaxDepth,
		CAS:       cas.New(casDir),
		PBKDF: PBKDFOptions{
			Alg:     policy.Default{}.DefaultPBKDFAlg(),
			SaltLen: policy.Default{}.DefaultPBKDFSaltLength(),
			Msec:    &msec,
		},
		Cipher: CipherOptions{Alg: policy.Default{}.DefaultCipherAlg()},
		Cache:  kdf.NewCache(),
		Policy: policy.Default{},
	}
}
