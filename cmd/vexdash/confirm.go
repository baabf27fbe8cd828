// ABOUTME: Confirmation gating for destructive commands such as events purge.
// ABOUTME: Prompts on a terminal and requires --force everywhere else.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type confirmOptions struct {
	action     string
	force      bool
	jsonOutput bool
}

var (
	confirmReader io.Reader = os.Stdin
	confirmWriter io.Writer = os.Stderr
	isInteractive           = func() bool {
		return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
	}
)

func requireConfirmation(opts confirmOptions) error {
	if opts.force {
		return nil
	}
	action := strings.TrimSpace(opts.action)
	if action == "" {
		action = "continue"
	}
	forceHint := "re-run with --force to " + action
	switch {
	case opts.jsonOutput:
		return newCLIError("refusing to "+action+" without --force in --json mode", "", forceHint)
	case !isInteractive():
		return newCLIError("refusing to "+action+" without --force in non-interactive mode", "", forceHint)
	}
	ok, err := askYes(confirmReader, confirmWriter, fmt.Sprintf("%s? Type 'yes' to continue: ", capitalize(action)))
	if err != nil {
		return err
	}
	if !ok {
		return newCLIError("aborted", "", forceHint)
	}
	return nil
}

// askYes reports whether the first line read from r is "yes".
func askYes(r io.Reader, w io.Writer, prompt string) (bool, error) {
	if r == nil {
		return false, errors.New("stdin unavailable")
	}
	if w != nil {
		if _, err := io.WriteString(w, prompt); err != nil {
			return false, err
		}
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes"), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
