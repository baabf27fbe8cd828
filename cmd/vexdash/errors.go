// ABOUTME: CLI errors that carry a suggested next step and hints for stderr.
// ABOUTME: Socket and API failures are wrapped here before main prints them.

package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// cliError decorates err with a human message, a next step and hints.
type cliError struct {
	msg   string
	next  string
	hints []string
	err   error
}

func (e *cliError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	}
	return "unknown error"
}

func (e *cliError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func newCLIError(msg, next string, hints ...string) error {
	return wrapCLIError(nil, msg, next, hints...)
}

func wrapCLIError(cause error, msg, next string, hints ...string) error {
	return &cliError{
		msg:   strings.TrimSpace(msg),
		next:  strings.TrimSpace(next),
		hints: uniqueHints(hints),
		err:   cause,
	}
}

// describeError returns the message, next step and hints for err. A wrapped
// cause is appended to the message so socket errors stay visible.
func describeError(err error) (msg, next string, hints []string) {
	if err == nil {
		return "", "", nil
	}
	var ce *cliError
	if !errors.As(err, &ce) {
		return strings.TrimSpace(err.Error()), "", nil
	}
	msg = ce.msg
	if msg == "" && ce.err != nil {
		msg = strings.TrimSpace(ce.err.Error())
	} else if ce.err != nil {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(ce.err.Error()))
	}
	return msg, ce.next, ce.hints
}

func uniqueHints(hints []string) []string {
	out := make([]string, 0, len(hints))
	for _, hint := range hints {
		hint = strings.TrimSpace(hint)
		if hint != "" && !slices.Contains(out, hint) {
			out = append(out, hint)
		}
	}
	return out
}

func printError(w io.Writer, msg, next string, hints []string) {
	if w == nil {
		return
	}
	if msg = strings.TrimSpace(msg); msg == "" {
		msg = "unknown error"
	}
	fmt.Fprintf(w, "error: %s\n", msg)
	if next = strings.TrimSpace(next); next != "" {
		fmt.Fprintf(w, "next: %s\n", next)
	}
	for _, hint := range uniqueHints(hints) {
		fmt.Fprintf(w, "hint: %s\n", hint)
	}
}
