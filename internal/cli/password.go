package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"enprot/internal/etree"
)

var (
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordEmpty    = errors.New("password cannot be empty")
)

// isTerminal returns true if stdin is a terminal (not piped/redirected).
func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readPasswordSecure reads a password from stdin without echo.
// Falls back to buffered read if stdin is not a terminal.
func readPasswordSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		// stdin is piped; read normally
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		pw = strings.TrimSuffix(pw, "\n")
		pw = strings.TrimSuffix(pw, "\r")
		return pw, nil
	}

	// Terminal mode: disable echo
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// ReadPasswordInteractive prompts for keyword's password interactively.
// If confirm is true, asks for confirmation (the encrypt direction); a
// single prompt is used for decrypt, per the engine's prompting rules.
func ReadPasswordInteractive(keyword string, confirm bool) (string, error) {
	password, err := readPasswordSecure(fmt.Sprintf("Password for %s: ", keyword))
	if err != nil {
		return "", err
	}

	if password == "" {
		return "", ErrPasswordEmpty
	}

	if confirm {
		again, err := readPasswordSecure(fmt.Sprintf("Confirm password for %s: ", keyword))
		if err != nil {
			return "", err
		}
		if password != again {
			return "", ErrPasswordMismatch
		}
	}

	return password, nil
}

// newPrompter returns an etree.PasswordPrompter that serves passwords given
// with -k WORD=PASSWORD on the command line before falling back to an
// interactive, hidden-input prompt.
func newPrompter(nonInteractive map[string]string) etree.PasswordPrompter {
	return func(keyword string, confirm bool) (string, error) {
		if pw, ok := nonInteractive[keyword]; ok {
			return pw, nil
		}
		return ReadPasswordInteractive(keyword, confirm)
	}
}
