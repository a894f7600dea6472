package etree

import (
	"strings"

	"enprot/internal/util"
)

// Write renders a Tree back into the annotated-text grammar, matching the
// directive forms Parse accepts.
func Write(text Tree, ops *ParseOps) string {
	var b strings.Builder
	writeTree(&b, text, ops)
	return b.String()
}

func writeTree(b *strings.Builder, text Tree, ops *ParseOps) {
	for _, n := range text {
		writeNode(b, n, ops)
	}
}

func writeNode(b *strings.Builder, n Node, ops *ParseOps) {
	switch n.Kind {
	case KindPlain:
		b.WriteString(n.Text)
		b.WriteByte('\n')

	case KindData:
		writeData(b, n.Bytes, ops)

	case KindStored:
		directive(b, ops, "STORED", n.Keyword, n.Hash)

	case KindEncrypted:
		writeEncrypted(b, n, ops)

	case KindBeginEnd:
		directive(b, ops, "BEGIN", n.Keyword)
		writeTree(b, n.Inner, ops)
		directive(b, ops, "END", n.Keyword)
	}
}

func writeEncrypted(b *strings.Builder, n Node, ops *ParseOps) {
	ext := extSuffix(n.PBKDF, n.Cipher)

	if len(n.Inner) == 1 && n.Inner[0].Kind == KindStored {
		directive(b, ops, "ENCRYPTED", n.Keyword, n.Inner[0].Hash, ext)
		return
	}

	directive(b, ops, "ENCRYPTED", n.Keyword, ext)
	writeTree(b, n.Inner, ops)
	directive(b, ops, "END", n.Keyword)
}

// extSuffix formats the trailing "pbkdf:... cipher:..." tokens for an
// ENCRYPTED directive. Either field may be absent.
func extSuffix(pbkdf, cipherMeta string) string {
	var parts []string
	if pbkdf != "" {
		parts = append(parts, "pbkdf:"+pbkdf)
	}
	if cipherMeta != "" {
		parts = append(parts, "cipher:"+cipherMeta)
	}
	return strings.Join(parts, " ")
}

// directive writes a single "// <( VERB args )>" line, skipping empty
// trailing args so the extension suffix can be passed unconditionally.
func directive(b *strings.Builder, ops *ParseOps, verb string, args ...string) {
	b.WriteString(ops.LeftSep)
	b.WriteByte(' ')
	b.WriteString(verb)
	for _, a := range args {
		if a == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte(' ')
	b.WriteString(ops.RightSep)
	b.WriteByte('\n')
}

// writeData chunks raw bytes into base64 DATA lines of DataBytesPerLine
// bytes apiece; an empty payload still emits one empty DATA line so the
// frame round-trips.
func writeData(b *strings.Builder, data []byte, ops *ParseOps) {
	if len(data) == 0 {
		directive(b, ops, "DATA", "")
		return
	}
	for i := 0; i < len(data); i += DataBytesPerLine {
		end := min(i+DataBytesPerLine, len(data))
		directive(b, ops, "DATA", util.Base64Encode(data[i:end]))
	}
}
