// enprot transforms annotated text files: store, fetch, encrypt and
// decrypt marked regions, keyed by a content-addressed blob store and
// password-derived keys.
//
// See internal/cli for the flag grammar and internal/etree for the
// parser/transform/unparser that does the work.
package main

import (
	"os"

	"enprot/internal/cli"
)

const version = "v0.1"

func main() {
	os.Exit(cli.Execute(version))
}
