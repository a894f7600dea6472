package etree

import (
	"bytes"
	"testing"
)

const sampleText = "Public line 1\n" +
	"Public line 2\n" +
	"// <( BEGIN GEHEIM )>\n" +
	"Secret line 1\n" +
	"Secret line 2\n" +
	"// <( BEGIN Agent_007 )>\n" +
	"James Bond\n" +
	"// <( END Agent_007 )>\n" +
	"Secret line 3\n" +
	"// <( END GEHEIM )>\n" +
	"Trailing line\n"

func TestParseWriteRoundTrip(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}

	got := Write(tree, ops)
	if got != sampleText {
		t.Fatalf("round-trip mismatch:\n--- got ---\n%s\n--- want ---\n%s", got, sampleText)
	}
}

func TestParseNestedBeginEndShape(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	tree, err := Parse(bytes.NewReader([]byte(sampleText)), ops)
	if err != nil {
		t.Fatal(err)
	}

	var outer *Node
	for i := range tree {
		if tree[i].Kind == KindBeginEnd && tree[i].Keyword == "GEHEIM" {
			outer = &tree[i]
		}
	}
	if outer == nil {
		t.Fatal("expected a GEHEIM BeginEnd node")
	}

	var inner *Node
	for i := range outer.Inner {
		if outer.Inner[i].Kind == KindBeginEnd && outer.Inner[i].Keyword == "Agent_007" {
			inner = &outer.Inner[i]
		}
	}
	if inner == nil {
		t.Fatal("expected a nested Agent_007 BeginEnd node")
	}
	if len(inner.Inner) != 1 || inner.Inner[0].Text != "James Bond" {
		t.Fatalf("unexpected Agent_007 contents: %+v", inner.Inner)
	}
}

func TestParseRejectsMismatchedEnd(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	text := "// <( BEGIN a )>\nx\n// <( END b )>\n"
	if _, err := Parse(bytes.NewReader([]byte(text)), ops); err == nil {
		t.Fatal("expected error for mismatched BEGIN/END keywords")
	}
}

func TestParseRejectsUnterminatedFrame(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	text := "// <( BEGIN a )>\nx\n"
	if _, err := Parse(bytes.NewReader([]byte(text)), ops); err == nil {
		t.Fatal("expected error for a frame left open at EOF")
	}
}

func TestParseRejectsMissingRightSeparator(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	text := "// <( BEGIN a\nx\n// <( END a )>\n"
	if _, err := Parse(bytes.NewReader([]byte(text)), ops); err == nil {
		t.Fatal("expected error for a directive missing its right separator")
	}
}

func TestParseDataRoundTrip(t *testing.T) {
	ops := NewParseOps(t.TempDir())
	payload := make([]byte, DataBytesPerLine*2+5)
	for i := range payload {
		payload[i] = byte(i)
	}

	blob := "// <( BEGIN blob )>\n" + Write(Tree{{Kind: KindData, Bytes: payload}}, ops) + "// <( END blob )>\n"

	tree, err := Parse(bytes.NewReader([]byte(blob)), ops)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 1 || tree[0].Kind != KindBeginEnd {
		t.Fatalf("unexpected top-level shape: %+v", tree)
	}
	inner := tree[0].Inner
	if len(inner) != 1 || inner[0].Kind != KindData {
		t.Fatalf("expected a single coalesced Data node, got %+v", inner)
	}
	if string(inner[0].Bytes) != string(payload) {
		t.Fatal("DATA payload did not round-trip byte for byte")
	}
}
