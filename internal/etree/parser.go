package etree

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	enerrors "enprot/internal/errors"
	"enprot/internal/util"
)

// Parse reads r as the annotated-text grammar and returns the resulting
// Tree, or a *errors.ParseError describing the first malformed directive.
func Parse(r io.Reader, ops *ParseOps) (Tree, error) {
	if ops.MaxDepth > 0 && ops.level > ops.MaxDepth {
		return nil, enerrors.ErrDepthExceeded
	}

	var text Tree
	var stack Tree
	lineno := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024*16)
	for scanner.Scan() {
		line := scanner.Text()
		lineno++

		if !strings.HasPrefix(strings.TrimLeft(line, " \t"), ops.LeftSep) {
			if n := len(text); n > 0 && text[n-1].Kind == KindPlain {
				text[n-1].Text += "\n" + line
			} else {
				text = append(text, Node{Kind: KindPlain, Text: line})
			}
			continue
		}

		trimmed := strings.Replace(strings.TrimSpace(line), ops.LeftSep, "", 1)
		if !strings.HasSuffix(trimmed, ops.RightSep) {
			return nil, parseErr(ops, lineno, line, fmt.Errorf("right separator %q missing", ops.RightSep))
		}
		trimmed = trimmed[:len(trimmed)-len(ops.RightSep)]
		cmd := strings.Fields(trimmed)
		if len(cmd) == 0 {
			return nil, parseErr(ops, lineno, line, fmt.Errorf("empty directive"))
		}

		verb, args := cmd[0], cmd[1:]
		var err error
		switch verb {
		case "DATA":
			err = parseData(args, &text)
		case "BEGIN":
			err = parseBegin(args, ops, &stack, &text)
		case "ENCRYPTED":
			err = parseEncrypted(args, ops, &stack, &text)
		case "END":
			err = parseEnd(args, ops, &stack, &text)
		case "STORED":
			err = parseStored(args, &text)
		default:
			err = fmt.Errorf("unknown directive %q", verb)
		}
		if err != nil {
			return nil, parseErr(ops, lineno, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, enerrors.NewFileError("read", ops.FName, err)
	}

	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return nil, parseErr(ops, lineno, "", fmt.Errorf("%s %q left open at EOF", open.Kind, open.Keyword))
	}

	return text, nil
}

func parseErr(ops *ParseOps, lineno int, line string, err error) error {
	return enerrors.NewParseError(ops.FName, lineno, line, err)
}

func parseData(args []string, text *Tree) error {
	if len(args) == 0 {
		// An empty DATA line (Write's encoding of a zero-length payload)
		// still needs a node so an empty encrypted/stored region round-trips.
		if n := len(*text); n == 0 || (*text)[n-1].Kind != KindData {
			*text = append(*text, Node{Kind: KindData, Bytes: []byte{}})
		}
		return nil
	}
	for _, tok := range args {
		data, err := util.Base64Decode(tok)
		if err != nil {
			return fmt.Errorf("decoding base64 %q: %w", tok, err)
		}
		if n := len(*text); n > 0 && (*text)[n-1].Kind == KindData {
			(*text)[n-1].Bytes = append((*text)[n-1].Bytes, data...)
		} else {
			*text = append(*text, Node{Kind: KindData, Bytes: data})
		}
	}
	return nil
}

func parseBegin(args []string, ops *ParseOps, stack *Tree, text *Tree) error {
	if len(args) != 1 {
		return fmt.Errorf("BEGIN needs a single keyword")
	}
	ops.level++
	*stack = append(*stack, Node{Kind: KindBeginEnd, Keyword: args[0], Inner: *text})
	*text = nil
	return nil
}

// parseEncrypted handles ENCRYPTED k [h] [ext:val]*. Extension fields are
// trailing tokens containing a colon; once a token without a colon is
// found (scanning from the end), everything before it is positional.
func parseEncrypted(args []string, ops *ParseOps, stack *Tree, text *Tree) error {
	extFields := map[string]string{}
	numExt := 0
	for i := len(args) - 1; i >= 0; i-- {
		if !strings.Contains(args[i], ":") {
			break
		}
		key, val, _ := strings.Cut(args[i], ":")
		if _, dup := extFields[key]; dup {
			return fmt.Errorf("duplicate extended field %q", key)
		}
		extFields[key] = val
		numExt++
	}
	positional := args[:len(args)-numExt]

	pbkdf := extFields["pbkdf"]
	cipherMeta := extFields["cipher"]
	delete(extFields, "pbkdf")
	delete(extFields, "cipher")
	if len(extFields) > 0 {
		return fmt.Errorf("unrecognized extended field(s) present")
	}

	switch len(positional) {
	case 1:
		ops.level++
		*stack = append(*stack, Node{Kind: KindEncrypted, Keyword: positional[0], Inner: *text, PBKDF: pbkdf, Cipher: cipherMeta})
		*text = nil
		return nil
	case 2:
		hash := positional[1]
		if !util.IsValidHexHash(hash, 64) {
			return fmt.Errorf("invalid CAS identifier %q", hash)
		}
		*text = append(*text, Node{
			Kind:    KindEncrypted,
			Keyword: positional[0],
			Inner:   Tree{{Kind: KindStored, Keyword: "ct", Hash: hash}},
			PBKDF:   pbkdf,
			Cipher:  cipherMeta,
		})
		return nil
	default:
		return fmt.Errorf("ENCRYPTED has wrong number of parameters (%d)", len(positional))
	}
}

func parseEnd(args []string, ops *ParseOps, stack *Tree, text *Tree) error {
	if len(args) > 1 {
		return fmt.Errorf("unknown padding in END")
	}
	if len(*stack) == 0 {
		return fmt.Errorf("END without a start clause")
	}

	frame := (*stack)[len(*stack)-1]
	*stack = (*stack)[:len(*stack)-1]

	switch frame.Kind {
	case KindBeginEnd:
		if len(args) >= 1 && frame.Keyword != args[0] {
			return fmt.Errorf("END mismatch (expected %q)", frame.Keyword)
		}
		node := Node{Kind: KindBeginEnd, Keyword: frame.Keyword, Inner: *text}
		*text = frame.Inner
		*text = append(*text, node)
		ops.level--
		return nil

	case KindEncrypted:
		if len(args) == 0 || frame.Keyword != args[0] {
			return fmt.Errorf("END mismatch (expected %q)", frame.Keyword)
		}
		if len(*text) != 1 {
			return fmt.Errorf("%d elements in encrypted %s (must be a single DATA or STORED)", len(*text), frame.Keyword)
		}
		inner := (*text)[0]
		if inner.Kind != KindData && inner.Kind != KindStored {
			return fmt.Errorf("not DATA or STORED element in encrypted %s", frame.Keyword)
		}
		node := Node{Kind: KindEncrypted, Keyword: frame.Keyword, Inner: *text, PBKDF: frame.PBKDF, Cipher: frame.Cipher}
		*text = frame.Inner
		*text = append(*text, node)
		ops.level--
		return nil

	default:
		return fmt.Errorf("END without a start clause")
	}
}

func parseStored(args []string, text *Tree) error {
	if len(args) != 2 {
		return fmt.Errorf("STORED needs two parameters")
	}
	*text = append(*text, Node{Kind: KindStored, Keyword: args[0], Hash: args[1]})
	return nil
}
