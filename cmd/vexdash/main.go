package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/buildinfo"
)

const defaultRequestTimeout = 30 * time.Second

const usageText = `vexdash is the CLI for vexdashd.

Usage:
  vexdash --version
  vexdash [--socket PATH] [--json] [--timeout DURATION] status
  vexdash [--socket PATH] [--json] [--timeout DURATION] snapshot
  vexdash [--socket PATH] [--json] [--timeout DURATION] events [--q <text>] [--limit <n>]
  vexdash [--socket PATH] [--json] [--timeout DURATION] events import <file> [--identity <path>]
  vexdash [--socket PATH] [--json] [--timeout DURATION] events purge [--force]
  vexdash [--socket PATH] [--json] [--timeout DURATION] archives list
  vexdash [--socket PATH] [--json] [--timeout DURATION] archives show <id>
  vexdash [--socket PATH] [--json] [--timeout DURATION] archives events <id>
  vexdash [--socket PATH] [--json] [--timeout DURATION] archives delete <id>
  vexdash [--socket PATH] [--json] [--timeout DURATION] archives clear [--force]
  vexdash [--socket PATH] [--json] [--timeout DURATION] replay logs
  vexdash [--socket PATH] [--json] [--timeout DURATION] replay show
  vexdash [--socket PATH] [--json] [--timeout DURATION] replay start <instance>
  vexdash [--socket PATH] [--json] [--timeout DURATION] replay start --file <path> [--identity <path>]
  vexdash [--socket PATH] [--json] [--timeout DURATION] replay seek <cursor>
  vexdash [--socket PATH] [--json] [--timeout DURATION] replay toggle
  vexdash [--socket PATH] [--json] [--timeout DURATION] replay stop
  vexdash [--socket PATH] [--timeout DURATION] export [--instance <name>] [--out <path>]
  vexdash [--socket PATH] [--json] [--timeout DURATION] upstream <stats|worlds>

Global Flags:
  --socket PATH   Path to vexdashd socket (default /run/vexdash/vexdashd.sock)
  --json          Output json
  --timeout       Request timeout (e.g. 30s, 2m)
`

type globalOptions struct {
	socketPath  string
	jsonOutput  bool
	showVersion bool
	timeout     time.Duration
}

func main() {
	opts, args, err := parseGlobal(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(buildinfo.String())
		return
	}
	if len(args) == 0 || isHelpToken(args[0]) {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	base := commonFlags{socketPath: opts.socketPath, jsonOutput: opts.jsonOutput, timeout: opts.timeout}
	if err := dispatch(ctx, args, base); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		msg, next, hints := describeError(err)
		printError(os.Stderr, msg, next, hints)
		os.Exit(1)
	}
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	opts := globalOptions{socketPath: defaultSocketPath}
	fs := flag.NewFlagSet("vexdash", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.socketPath, "socket", defaultSocketPath, "path to vexdashd socket")
	fs.BoolVar(&opts.jsonOutput, "json", false, jsonFlagDescription)
	fs.DurationVar(&opts.timeout, "timeout", defaultRequestTimeout, "request timeout (e.g. 30s, 2m)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if opts.socketPath == "" {
		opts.socketPath = defaultSocketPath
	}
	if opts.timeout < 0 {
		return opts, nil, fmt.Errorf("timeout must be >= 0")
	}
	return opts, fs.Args(), nil
}

func dispatch(ctx context.Context, args []string, base commonFlags) error {
	switch args[0] {
	case "status":
		return runStatus(ctx, args[1:], base)
	case "snapshot":
		return runSnapshot(ctx, args[1:], base)
	case "events":
		return runEventsCommand(ctx, args[1:], base)
	case "archives":
		return runArchivesCommand(ctx, args[1:], base)
	case "replay":
		return runReplayCommand(ctx, args[1:], base)
	case "export":
		return runExport(ctx, args[1:], base)
	case "upstream":
		return runUpstreamCommand(ctx, args[1:], base)
	default:
		printUsage()
		return newCLIError(fmt.Sprintf("unknown command %q", args[0]), "run vexdash --help")
	}
}

func isHelpToken(arg string) bool {
	switch strings.TrimSpace(arg) {
	case "help", "-h", "--help":
		return true
	}
	return false
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stdout, usageText)
}

func printStatusUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash status")
}

func printSnapshotUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash snapshot")
}

func printEventsUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash events [--q <text>] [--limit <n>]")
	fmt.Fprintln(os.Stdout, "       vexdash events <import|purge> [flags]")
}

func printEventsImportUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash events import <file> [--identity <path>]")
	fmt.Fprintln(os.Stdout, "Note: --identity is required for .age exports.")
}

func printEventsPurgeUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash events purge [--force]")
}

func printArchivesUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash archives <list|show|events|delete|clear>")
}

func printArchivesListUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash archives list")
}

func printArchivesShowUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash archives show <id>")
}

func printArchivesEventsUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash archives events <id>")
}

func printArchivesDeleteUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash archives delete <id>")
}

func printArchivesClearUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash archives clear [--force]")
}

func printReplayUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash replay <logs|show|start|seek|toggle|stop>")
}

func printReplayStartUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash replay start <instance>")
	fmt.Fprintln(os.Stdout, "       vexdash replay start --file <path> [--identity <path>]")
}

func printReplaySeekUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash replay seek <cursor>")
}

func printReplaySimpleUsage(name string) func() {
	return func() {
		fmt.Fprintf(os.Stdout, "Usage: vexdash replay %s\n", name)
	}
}

func printExportUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash export [--instance <name>] [--out <path>]")
	fmt.Fprintln(os.Stdout, "Note: --out - writes to stdout.")
}

func printUpstreamUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vexdash upstream <stats|worlds>")
}
