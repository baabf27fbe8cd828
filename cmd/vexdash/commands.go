package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/export"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

const (
	jsonFlagDescription     = "output json"
	identityFlagDescription = "age identity file for .age exports"
	maxImportBytes          = 8 << 20
)

var errHelp = errors.New("help requested")

var stdoutIsTerminal = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

type commonFlags struct {
	socketPath string
	jsonOutput bool
	timeout    time.Duration
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.socketPath, "socket", c.socketPath, "path to vexdashd socket")
	fs.BoolVar(&c.jsonOutput, "json", c.jsonOutput, jsonFlagDescription)
}

func (c commonFlags) client() *apiClient {
	return newAPIClient(c.socketPath, c.timeout)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, usage func(), help *bool) error {
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		usage()
		return err
	}
	if help != nil && *help {
		usage()
		return errHelp
	}
	return nil
}

func bindHelp(fs *flag.FlagSet, help *bool) {
	fs.BoolVar(help, "help", false, "show help")
	fs.BoolVar(help, "h", false, "show help")
}

// parseArgs splits leading positionals from flags so both
// "show <id> --json" and "show --json <id>" work.
func parseArgs(fs *flag.FlagSet, args []string, usage func(), help *bool) ([]string, error) {
	var positional []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		positional = append(positional, args[0])
		args = args[1:]
	}
	if err := parseFlags(fs, args, usage, help); err != nil {
		return nil, err
	}
	return append(positional, fs.Args()...), nil
}

func runStatus(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("status")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printStatusUsage, &help); err != nil {
		return err
	}
	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/status", nil)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp statusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printStatus(os.Stdout, resp, time.Now())
	return nil
}

func printStatus(out io.Writer, resp statusResponse, now time.Time) {
	w := tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", resp.Version)
	stream := "disconnected"
	if resp.Stream.Connected {
		stream = "connected"
	}
	if resp.Stream.RetryIn > 0 {
		stream = fmt.Sprintf("%s (retry in %ds)", stream, resp.Stream.RetryIn)
	}
	fmt.Fprintf(w, "Stream:\t%s\n", stream)
	fmt.Fprintf(w, "Last Event:\t%s\n", relativeTime(resp.Stream.LastEventAt, now))
	upstream := resp.Upstream.Status
	if resp.Upstream.URL != "" {
		upstream = fmt.Sprintf("%s (%s)", upstream, resp.Upstream.URL)
	}
	fmt.Fprintf(w, "Upstream:\t%s\n", upstream)
	fmt.Fprintf(w, "Buffered Events:\t%s\n", humanize.Comma(int64(resp.BufferEvents)))
	fmt.Fprintf(w, "Archived:\t%s\n", humanize.Comma(int64(resp.ArchivedCount)))
	fmt.Fprintf(w, "Replay:\t%s\n", replaySummary(resp.Replay))
	fmt.Fprintf(w, "Metrics:\t%t\n", resp.Metrics.Enabled)
	if resp.ReducedAt != "" {
		fmt.Fprintf(w, "Reduced:\t%s\n", relativeTime(resp.ReducedAt, now))
	}
	_ = w.Flush()
}

func runSnapshot(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("snapshot")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printSnapshotUsage, &help); err != nil {
		return err
	}
	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/snapshot", nil)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp snapshotResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printSnapshot(os.Stdout, resp, time.Now())
	return nil
}

func printSnapshot(out io.Writer, resp snapshotResponse, now time.Time) {
	names := make([]string, 0, len(resp.World.Instances))
	for name := range resp.World.Instances {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATUS\tROOMS\tENTITIES\tKILLS\tPLAYERS\tSTARTED")
	for _, name := range names {
		inst := resp.World.Instances[name]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			name, inst.Status, inst.Stats.RoomCount, inst.Stats.EntityCount,
			inst.Stats.KillCount, len(inst.Players), relativeTime(inst.StartedAt, now))
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d active of %d instances, %d players, %d portals",
		resp.Summary.InstanceStats.Active, resp.Summary.InstanceStats.Total,
		len(resp.World.Players), len(resp.World.Portals))
	if resp.Replaying {
		fmt.Fprint(out, " (replay)")
	}
	fmt.Fprintln(out)

	if len(resp.Presence) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tUUID\tWORLD")
	for _, p := range resp.Presence {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.UUID, dash(p.World))
	}
	_ = w.Flush()
}

func runEventsCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) > 0 {
		switch args[0] {
		case "import":
			return runEventsImport(ctx, args[1:], base)
		case "purge":
			return runEventsPurge(ctx, args[1:], base)
		}
	}
	return runEventsList(ctx, args, base)
}

func runEventsList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("events")
	opts := base
	opts.bind(fs)
	var query string
	var limit int
	var help bool
	fs.StringVar(&query, "q", "", "case-insensitive search over type and payload")
	fs.IntVar(&limit, "limit", 0, "maximum events to return (server default 200)")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printEventsUsage, &help); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		printEventsUsage()
		return newCLIError(fmt.Sprintf("unknown events command %q", fs.Arg(0)), "run vexdash events --help")
	}
	if limit < 0 {
		return newCLIError("limit must be a positive integer", "")
	}
	values := url.Values{}
	if strings.TrimSpace(query) != "" {
		values.Set("q", query)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/events"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	payload, err := opts.client().doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp eventsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printEvents(os.Stdout, resp)
	return nil
}

func printEvents(out io.Writer, resp eventsResponse) {
	w := tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTYPE\tID")
	for _, ev := range resp.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\n", dash(ev.Timestamp), ev.Type, ev.ID)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "showing %s of %s matched (%s buffered)\n",
		humanize.Comma(int64(len(resp.Events))), humanize.Comma(int64(resp.Matched)), humanize.Comma(int64(resp.Buffered)))
}

func runEventsImport(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("events import")
	opts := base
	opts.bind(fs)
	var identity string
	var help bool
	fs.StringVar(&identity, "identity", "", identityFlagDescription)
	bindHelp(fs, &help)
	rest, err := parseArgs(fs, args, printEventsImportUsage, &help)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		printEventsImportUsage()
		return newCLIError("exactly one export file is required", "")
	}
	data, err := readExport(rest[0], identity)
	if err != nil {
		return err
	}
	payload, err := opts.client().doRaw(ctx, http.MethodPost, "/v1/events", bytes.NewReader(data), "application/json", maxJSONOutputBytes)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp ingestResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "imported %s events from %s\n", humanize.Comma(int64(resp.Accepted)), filepath.Base(rest[0]))
	return nil
}

func runEventsPurge(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("events purge")
	opts := base
	opts.bind(fs)
	var force bool
	var help bool
	fs.BoolVar(&force, "force", false, "skip confirmation")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printEventsPurgeUsage, &help); err != nil {
		return err
	}
	if err := requireConfirmation(confirmOptions{action: "purge buffered events", force: force, jsonOutput: opts.jsonOutput}); err != nil {
		return err
	}
	if _, err := opts.client().doJSON(ctx, http.MethodDelete, "/v1/events", nil); err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return printDone(opts, "purge")
}

func runArchivesCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 {
		printArchivesUsage()
		return nil
	}
	switch args[0] {
	case "list":
		return runArchivesList(ctx, args[1:], base)
	case "show":
		return runArchiveGet(ctx, args[1:], base, "", printArchivesShowUsage)
	case "events":
		return runArchiveGet(ctx, args[1:], base, "/events", printArchivesEventsUsage)
	case "delete":
		return runArchiveDelete(ctx, args[1:], base)
	case "clear":
		return runArchivesClear(ctx, args[1:], base)
	default:
		printArchivesUsage()
		return newCLIError(fmt.Sprintf("unknown archives command %q", args[0]), "run vexdash archives --help")
	}
}

func runArchivesList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("archives list")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printArchivesListUsage, &help); err != nil {
		return err
	}
	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/archives", nil)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp archivesResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printArchives(os.Stdout, resp.Archives, time.Now())
	return nil
}

func printArchives(out io.Writer, archives []archiveSummary, now time.Time) {
	w := tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tROOMS\tENTITIES\tKILLS\tPLAYERS\tARCHIVED")
	for _, a := range archives {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			a.ID, dash(a.Status), a.Rooms, a.Entities, a.Kills, a.Players, relativeTime(a.Timestamp, now))
	}
	_ = w.Flush()
}

// runArchiveGet prints an archive or its event log; both are raw JSON documents.
func runArchiveGet(ctx context.Context, args []string, base commonFlags, suffix string, usage func()) error {
	fs := newFlagSet("archives")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	rest, err := parseArgs(fs, args, usage, &help)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		usage()
		return newCLIError("archive id is required", "run vexdash archives list")
	}
	payload, err := opts.client().doJSON(ctx, http.MethodGet, archivePath(rest[0])+suffix, nil)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return prettyPrintJSON(os.Stdout, payload)
}

func runArchiveDelete(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("archives delete")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	rest, err := parseArgs(fs, args, printArchivesDeleteUsage, &help)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		printArchivesDeleteUsage()
		return newCLIError("archive id is required", "run vexdash archives list")
	}
	if _, err := opts.client().doJSON(ctx, http.MethodDelete, archivePath(rest[0]), nil); err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return printDone(opts, "delete")
}

func runArchivesClear(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("archives clear")
	opts := base
	opts.bind(fs)
	var force bool
	var help bool
	fs.BoolVar(&force, "force", false, "skip confirmation")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printArchivesClearUsage, &help); err != nil {
		return err
	}
	if err := requireConfirmation(confirmOptions{action: "delete all archives", force: force, jsonOutput: opts.jsonOutput}); err != nil {
		return err
	}
	if _, err := opts.client().doJSON(ctx, http.MethodDelete, "/v1/archives", nil); err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return printDone(opts, "clear")
}

func archivePath(id string) string {
	return "/v1/archives/" + url.PathEscape(strings.TrimSpace(id))
}

func runReplayCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 {
		printReplayUsage()
		return nil
	}
	switch args[0] {
	case "logs":
		return runReplayLogs(ctx, args[1:], base)
	case "show":
		return runReplaySimple(ctx, args[1:], base, "show", http.MethodGet, "/v1/replay")
	case "start":
		return runReplayStart(ctx, args[1:], base)
	case "seek":
		return runReplaySeek(ctx, args[1:], base)
	case "toggle":
		return runReplaySimple(ctx, args[1:], base, "toggle", http.MethodPost, "/v1/replay/toggle")
	case "stop":
		return runReplaySimple(ctx, args[1:], base, "stop", http.MethodDelete, "/v1/replay")
	default:
		printReplayUsage()
		return newCLIError(fmt.Sprintf("unknown replay command %q", args[0]), "run vexdash replay --help")
	}
}

// runReplayLogs lists the instances with a stored event log, which are the
// ones replay start accepts by name.
func runReplayLogs(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("replay logs")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printReplaySimpleUsage("logs"), &help); err != nil {
		return err
	}
	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/event-logs", nil)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp eventLogsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printEventLogs(os.Stdout, resp.Logs, time.Now())
	return nil
}

func printEventLogs(out io.Writer, logs []eventLogSummary, now time.Time) {
	w := tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tEVENTS\tUPDATED")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", l.ID, l.Events, relativeTime(l.UpdatedAt, now))
	}
	_ = w.Flush()
}

func runReplaySimple(ctx context.Context, args []string, base commonFlags, name, method, path string) error {
	fs := newFlagSet("replay " + name)
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printReplaySimpleUsage(name), &help); err != nil {
		return err
	}
	var body any
	if method == http.MethodPost {
		body = struct{}{}
	}
	payload, err := opts.client().doJSON(ctx, method, path, body)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return printReplayPayload(opts, payload)
}

func runReplayStart(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("replay start")
	opts := base
	opts.bind(fs)
	var file string
	var identity string
	var help bool
	fs.StringVar(&file, "file", "", "telemetry export to replay instead of an instance")
	fs.StringVar(&identity, "identity", "", identityFlagDescription)
	bindHelp(fs, &help)
	rest, err := parseArgs(fs, args, printReplayStartUsage, &help)
	if err != nil {
		return err
	}
	var req replayStartRequest
	switch {
	case file != "" && len(rest) == 0:
		data, err := readExport(file, identity)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &req.Events); err != nil {
			return wrapCLIError(err, fmt.Sprintf("%s is not a telemetry export", file), "")
		}
		if len(req.Events) == 0 {
			return newCLIError(fmt.Sprintf("%s contains no events", file), "")
		}
	case file == "" && len(rest) == 1:
		req.Instance = rest[0]
	default:
		printReplayStartUsage()
		return newCLIError("exactly one of <instance> or --file is required", "")
	}
	payload, err := opts.client().doJSON(ctx, http.MethodPost, "/v1/replay", req)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return printReplayPayload(opts, payload)
}

func runReplaySeek(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("replay seek")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	rest, err := parseArgs(fs, args, printReplaySeekUsage, &help)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		printReplaySeekUsage()
		return newCLIError("cursor is required", "")
	}
	cursor, err := strconv.Atoi(rest[0])
	if err != nil {
		return newCLIError(fmt.Sprintf("invalid cursor %q", rest[0]), "", "cursor is a zero-based event index")
	}
	payload, err := opts.client().doJSON(ctx, http.MethodPost, "/v1/replay/seek", replaySeekRequest{Cursor: cursor})
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return printReplayPayload(opts, payload)
}

func printReplayPayload(opts commonFlags, payload []byte) error {
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp replayResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printReplay(os.Stdout, resp)
	return nil
}

func printReplay(out io.Writer, resp replayResponse) {
	w := tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Replay:\t%s\n", replaySummary(resp))
	if resp.Active {
		fmt.Fprintf(w, "Source:\t%s\n", dash(resp.Source))
		fmt.Fprintf(w, "World:\t%s\n", dash(resp.World))
		fmt.Fprintf(w, "Range:\t%s .. %s\n", dash(resp.FirstTimestamp), dash(resp.LastTimestamp))
		if resp.Current != nil {
			fmt.Fprintf(w, "Current:\t%s at %s\n", resp.Current.Type, dash(resp.Current.Timestamp))
		}
	}
	_ = w.Flush()
}

func replaySummary(resp replayResponse) string {
	if !resp.Active {
		return "inactive"
	}
	state := "paused"
	if resp.Playing {
		state = "playing"
	}
	return fmt.Sprintf("%s %d/%d", state, resp.Cursor+1, resp.Length)
}

func runExport(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("export")
	opts := base
	opts.bind(fs)
	var instanceName string
	var outPath string
	var help bool
	fs.StringVar(&instanceName, "instance", "", "export a single instance's events")
	fs.StringVar(&outPath, "out", "", "output file (default server-suggested name, - for stdout)")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, printExportUsage, &help); err != nil {
		return err
	}
	path := "/v1/export"
	if name := strings.TrimSpace(instanceName); name != "" {
		path += "?" + url.Values{"instance": {name}}.Encode()
	}
	data, header, err := opts.client().do(ctx, http.MethodGet, path, nil, "", maxExportBytes)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	target := resolveExportTarget(outPath, header.Get("Content-Disposition"), stdoutIsTerminal())
	if target == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return fmt.Errorf("write export %s: %w", target, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%s)\n", target, humanize.Bytes(uint64(len(data))))
	return nil
}

// resolveExportTarget picks where an export lands. Without --out, terminals
// get the server-suggested filename and pipes get the raw bytes.
func resolveExportTarget(outPath, disposition string, terminal bool) string {
	if outPath = strings.TrimSpace(outPath); outPath != "" {
		return outPath
	}
	if !terminal {
		return "-"
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := filepath.Base(params["filename"]); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return export.TelemetryFilename(time.Now())
}

func runUpstreamCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 {
		printUpstreamUsage()
		return nil
	}
	var path string
	switch args[0] {
	case "stats":
		path = "/v1/upstream/stats"
	case "worlds":
		path = "/v1/upstream/worlds"
	default:
		printUpstreamUsage()
		return newCLIError(fmt.Sprintf("unknown upstream command %q", args[0]), "run vexdash upstream --help")
	}
	fs := newFlagSet("upstream " + args[0])
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args[1:], printUpstreamUsage, &help); err != nil {
		return err
	}
	payload, err := opts.client().doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return withSocketHint(err, opts.socketPath)
	}
	return prettyPrintJSON(os.Stdout, payload)
}

func readExport(path, identity string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, wrapCLIError(err, fmt.Sprintf("cannot read %s", path), "")
	}
	if info.Size() > maxImportBytes {
		return nil, newCLIError(fmt.Sprintf("%s is %s, larger than the %s ingest limit", path,
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(maxImportBytes)), "")
	}
	data, err := export.ReadFile(path, identity)
	if err != nil {
		if strings.HasSuffix(path, export.EncryptedSuffix) && identity == "" {
			return nil, wrapCLIError(err, "cannot decrypt export", "", "pass --identity with your age key file")
		}
		return nil, err
	}
	return data, nil
}

func printDone(opts commonFlags, action string) error {
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, []byte(fmt.Sprintf(`{"ok":true,"action":%q}`, action)))
	}
	fmt.Fprintf(os.Stdout, "%s: ok\n", action)
	return nil
}

func withSocketHint(err error, socketPath string) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return wrapCLIError(err, "vexdashd is not reachable", "check that vexdashd is running",
			fmt.Sprintf("socket: %s", socketPath))
	}
	return err
}

// relativeTime renders an RFC 3339 or unix millisecond timestamp as "3 minutes ago".
func relativeTime(value string, now time.Time) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	ts, ok := models.ParseTimestamp(value)
	if !ok {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return value
		}
		ts = time.UnixMilli(ms)
	}
	return humanize.RelTime(ts, now, "ago", "from now")
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
