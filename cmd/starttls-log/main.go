// Command starttls-log is a tool for viewing and analyzing STARTTLS protocol
// log files.
//
// Log files are created by starttls-server and starttls-client when run with
// the -protocol-log flag. Each file is a CBOR sequence of capture events.
//
// Usage:
//
//	starttls-log <command> [flags] <file.tlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL, CSV or YAML
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	starttls-log view server.tlog
//
//	# View only traffic after the upgrade
//	starttls-log view --layer secure server.tlog
//
//	# View only handshakes
//	starttls-log view --category handshake server.tlog
//
//	# Export to CSV
//	starttls-log export --format csv -o server.csv server.tlog
//
//	# Filter by connection and save to new file
//	starttls-log filter --conn-id abc12345 -o filtered.tlog server.tlog
//
//	# Show statistics
//	starttls-log stats server.tlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mash-protocol/starttls-go/cmd/starttls-log/commands"
)

const usage = `starttls-log - STARTTLS Protocol Log Analyzer

Usage:
  starttls-log <command> [flags] <file.tlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL, CSV or YAML
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "starttls-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// fail prints err and exits.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// requirePath returns the single positional log file argument.
func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `starttls-log view - View log file in human-readable format

Usage:
  starttls-log view [flags] <file.tlog>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (plain, secure, stream)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (data, state, handshake, error)")
	role := fs.String("role", "", "Filter by local role (server, client)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	var filter commands.ViewFilter
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if *role != "" {
		r, err := commands.ParseRoleFlag(*role)
		if err != nil {
			fail(err)
		}
		filter.Role = &r
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `starttls-log export - Export log file to JSONL, CSV or YAML

Usage:
  starttls-log export [flags] <file.tlog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", commands.FormatJSONL, "Output format (jsonl, csv, yaml)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `starttls-log filter - Filter log file and write to new file

Usage:
  starttls-log filter [flags] <file.tlog>

Flags:
`)
		fs.PrintDefaults()
	}

	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.RemoteAddr, "remote-addr", "", "Filter by peer address (IP:port)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (plain, secure, stream)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (data, state, handshake, error)")
	fs.StringVar(&opts.Role, "role", "", "Filter by local role (server, client)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunFilter(path, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `starttls-log stats - Show statistics about the log file

Usage:
  starttls-log stats <file.tlog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
