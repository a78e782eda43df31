// Package app wires the CLI commands to the pipeline components.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "process":
		return runProcess(args[1:])
	case "recover":
		return runRecover(args[1:])
	case "aggregate":
		return runAggregate(args[1:])
	case "run":
		return runDaemon(args[1:])
	case "serve":
		return runServe(args[1:])
	case "vocab":
		return runVocab(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "brandpulse CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  brandpulse <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest     Insert one raw content item for a company")
	fmt.Fprintln(os.Stderr, "  process    Claim and summarize pending raw items")
	fmt.Fprintln(os.Stderr, "  recover    Reset abandoned processing claims")
	fmt.Fprintln(os.Stderr, "  aggregate  Roll new summaries into strategic signals per group")
	fmt.Fprintln(os.Stderr, "  run        Run recover + process + aggregate on an interval")
	fmt.Fprintln(os.Stderr, "  serve      Start the read API server")
	fmt.Fprintln(os.Stderr, "  vocab      List the canonical tag/theme vocabulary")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"brandpulse <command> -h\" for command-specific flags.")
}
