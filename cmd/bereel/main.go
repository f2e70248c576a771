package main

import (
	"fmt"
	"os"

	_ "time/tzdata"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// stderrIsTerminal reports whether progress output would reach a person.
func stderrIsTerminal() bool {
	stat, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _                       _
  | |__   ___ _ __ ___  ___| |
  | '_ \ / _ \ '__/ _ \/ _ \ |
  | |_) |  __/ | |  __/  __/ |
  |_.__/ \___|_|  \___|\___|_|

  BeReal export archiver

  Usage: bereel export [options]
         bereel plan [options]
         bereel --help`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	app := newCLIApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
