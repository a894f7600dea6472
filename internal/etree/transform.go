package etree

import (
	"bytes"
	"fmt"

	enerrors "enprot/internal/errors"
	"enprot/internal/log"
	"enprot/internal/prot"
)

// Transform walks text and applies the store/fetch/encrypt/decrypt
// operations named in ops for each keyword, returning the resulting tree.
func Transform(text Tree, ops *ParseOps) (Tree, error) {
	if ops.MaxDepth > 0 && ops.level > ops.MaxDepth {
		return nil, enerrors.ErrDepthExceeded
	}

	out := make(Tree, 0, len(text))
	for _, n := range text {
		switch n.Kind {
		case KindPlain, KindData:
			out = append(out, n)

		case KindBeginEnd:
			node, err := transformBeginEnd(n, ops)
			if err != nil {
				return nil, enerrors.NewTransformError(n.Keyword, err)
			}
			out = append(out, node)

		case KindEncrypted:
			node, err := transformEncrypted(n, ops)
			if err != nil {
				return nil, enerrors.NewTransformError(n.Keyword, err)
			}
			out = append(out, node)

		case KindStored:
			node, err := transformStored(n, ops)
			if err != nil {
				return nil, enerrors.NewTransformError(n.Keyword, err)
			}
			out = append(out, node)
		}
	}
	return out, nil
}

func transformBeginEnd(n Node, ops *ParseOps) (Node, error) {
	if ops.Encrypt[n.Keyword] {
		pt := []byte(Write(n.Inner, ops))

		password, err := resolvePassword(ops, n.Keyword, true)
		if err != nil {
			return Node{}, err
		}

		ct, ext, err := prot.Seal(pt, password, toProtPBKDF(ops.PBKDF), toProtCipher(ops.Cipher), ops.Cache, ops.Policy)
		if err != nil {
			return Node{}, err
		}

		var wrapper Node
		if ops.Store[n.Keyword] {
			h, err := ops.CAS.Save(ct)
			if err != nil {
				return Node{}, err
			}
			wrapper = Node{Kind: KindStored, Keyword: "ct", Hash: h}
		} else {
			wrapper = Node{Kind: KindData, Bytes: ct}
		}

		return Node{Kind: KindEncrypted, Keyword: n.Keyword, Inner: Tree{wrapper}, PBKDF: ext.PBKDF, Cipher: ext.Cipher}, nil
	}

	if ops.Store[n.Keyword] {
		blob := []byte(Write(n.Inner, ops))
		h, err := ops.CAS.Save(blob)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindStored, Keyword: n.Keyword, Hash: h}, nil
	}

	ops.level++
	inner, err := Transform(n.Inner, ops)
	ops.level--
	if err != nil {
		return Node{}, err
	}
	return Node{Kind: KindBeginEnd, Keyword: n.Keyword, Inner: inner}, nil
}

func transformEncrypted(n Node, ops *ParseOps) (Node, error) {
	if ops.Decrypt[n.Keyword] {
		ct, err := encryptedPayload(n, ops)
		if err != nil {
			return Node{}, err
		}

		password, err := resolvePassword(ops, n.Keyword, false)
		if err != nil {
			return Node{}, err
		}

		pt, err := prot.Open(ct, password, prot.Ext{PBKDF: n.PBKDF, Cipher: n.Cipher}, ops.Cache, ops.Policy)
		if err != nil {
			return Node{}, err
		}

		savedFName := ops.FName
		ops.FName = "decrypted"
		ops.level++
		parsed, err := Parse(bytes.NewReader(pt), ops)
		ops.level--
		ops.FName = savedFName
		if err != nil {
			return Node{}, err
		}

		return Node{Kind: KindBeginEnd, Keyword: n.Keyword, Inner: parsed}, nil
	}

	if ops.Store[n.Keyword] {
		if len(n.Inner) == 1 && n.Inner[0].Kind == KindStored {
			return n, nil
		}
		ct, err := encryptedPayload(n, ops)
		if err != nil {
			return Node{}, err
		}
		h, err := ops.CAS.Save(ct)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindEncrypted, Keyword: n.Keyword, Inner: Tree{{Kind: KindStored, Keyword: "ct", Hash: h}}}, nil
	}

	if ops.Fetch[n.Keyword] {
		ct, err := encryptedPayload(n, ops)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindEncrypted, Keyword: n.Keyword, Inner: Tree{{Kind: KindData, Bytes: ct}}}, nil
	}

	return n, nil
}

func transformStored(n Node, ops *ParseOps) (Node, error) {
	if !ops.Fetch[n.Keyword] {
		return n, nil
	}

	blob, err := ops.CAS.Load(n.Hash)
	if err != nil {
		return Node{}, err
	}

	savedFName := ops.FName
	ops.FName = n.Hash
	ops.level++
	parsed, err := Parse(bytes.NewReader(blob), ops)
	ops.level--
	ops.FName = savedFName
	if err != nil {
		return Node{}, err
	}

	return Node{Kind: KindBeginEnd, Keyword: n.Keyword, Inner: parsed}, nil
}

// encryptedPayload extracts the raw ciphertext bytes from an Encrypted
// node's single inner Data or Stored element.
func encryptedPayload(n Node, ops *ParseOps) ([]byte, error) {
	if len(n.Inner) != 1 {
		return nil, fmt.Errorf("%w: encrypted %s has %d inner elements", enerrors.ErrBadNodeShape, n.Keyword, len(n.Inner))
	}
	switch inner := n.Inner[0]; inner.Kind {
	case KindData:
		return inner.Bytes, nil
	case KindStored:
		return ops.CAS.Load(inner.Hash)
	default:
		return nil, fmt.Errorf("%w: encrypted %s inner is %s, want Data or Stored", enerrors.ErrBadNodeShape, n.Keyword, inner.Kind)
	}
}

// resolvePassword returns the memoized password for keyword, prompting
// (with confirmation when confirm is true) and caching it on first use.
func resolvePassword(ops *ParseOps, keyword string, confirm bool) (string, error) {
	if pw, ok := ops.Passwords[keyword]; ok {
		return pw, nil
	}
	if ops.Prompt == nil {
		return "", fmt.Errorf("%w: no prompter configured for %q", enerrors.ErrPasswordMissing, keyword)
	}

	pw, err := ops.Prompt(keyword, confirm)
	if err != nil {
		return "", err
	}

	ops.Passwords[keyword] = pw
	log.Debug("transform: resolved password", log.Keyword(keyword))
	return pw, nil
}

func toProtPBKDF(o PBKDFOptions) prot.PBKDFOptions {
	return prot.PBKDFOptions{Alg: o.Alg, SaltLen: o.SaltLen, Salt: o.Salt, Msec: o.Msec, Params: o.Params}
}

func toProtCipher(o CipherOptions) prot.CipherOptions {
	return prot.CipherOptions{Alg: o.Alg, IV: o.IV}
}
