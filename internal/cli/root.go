package cli

import (
	"github.com/spf13/cobra"
)

// Version is set by main.go.
var Version = "dev"

// rootCmd is enprot's single command: a generic transform over one or more
// input files, configured by the store/fetch/encrypt/decrypt flag sets
// described in the grammar's external interface. Flag parsing is disabled
// here (see runRoot) because -o's meaning ("output file for the *previous*
// input") depends on its position relative to the positional file
// arguments, which cobra/pflag's parse-then-reorder behavior would lose.
var rootCmd = &cobra.Command{
	Use:   "enprot [OPTION]... [FILE]...",
	Short: "Transform annotated text: store, fetch, encrypt and decrypt marked regions",
	Long: `enprot parses a text file for regions marked with // <( BEGIN keyword )>
... // <( END keyword )> directives and applies store/fetch/encrypt/decrypt
operations to them, keyed by region name. Stored content moves into a
content-addressed blob directory; encrypted content is sealed under a
password-derived key. Both operations round-trip: fetch and decrypt
reconstruct the original text byte-for-byte.`,
	Version:            Version,
	DisableFlagParsing: true,
	SilenceErrors:      true,
	SilenceUsage:       true,
	RunE:               runRoot,
}

// Execute runs the CLI application, returning the process exit code.
func Execute(version string) int {
	Version = version
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		if err != errShowedUsage {
			NewReporter(false).PrintError("%v", err)
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
