// Command dbupgrader drives a single end-to-end ERP database upgrade run:
// restore a source database, step it through every intermediate major
// version up to the target, and repackage the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbupgrader/dbupgrader/internal/cli"
	"github.com/dbupgrader/dbupgrader/internal/logger"
	"github.com/dbupgrader/dbupgrader/internal/orchestrator"
	"github.com/dbupgrader/dbupgrader/internal/settings"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help") {
		printHelp()
		return
	}

	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("dbupgrader", flag.ExitOnError)
	envFile := fs.String("env-file", ".env", "Optional .env-style file to load before flags/env vars are read")
	source := fs.String("source", "", "Source database location: a local .zip/.dump path or an HTTPS URL")
	target := fs.String("target", "", "Target major version, e.g. 17.0")
	extraAddons := fs.String("extra-addons", "", "Optional custom addons location: directory, .zip file, or URL")
	sourceChecksum := fs.String("source-checksum", "", "Expected SHA-256 of the source file, as 64 hex chars")
	addonsChecksum := fs.String("addons-checksum", "", "Expected SHA-256 of the extra addons archive, as 64 hex chars")
	dbEngineVersion := fs.String("db-engine-version", "", "Postgres image tag to run the database on (default from settings)")
	allowPlaintextHTTP := fs.Bool("allow-plaintext-http", false, "Allow downloading source/addons over plain HTTP")
	resume := fs.Bool("resume", false, "Resume a previous run from its last completed step")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	verbose := fs.Bool("verbose", false, "Enable debug-level logging")
	fs.Parse(os.Args[1:])

	s, err := settings.FromEnv(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *source != "" {
		s.SourceLocation = *source
	}
	if *target != "" {
		s.TargetMajor = *target
	}
	if *extraAddons != "" {
		s.ExtraAddonsLocation = *extraAddons
	}
	if *sourceChecksum != "" {
		s.SourceChecksum = *sourceChecksum
	}
	if *addonsChecksum != "" {
		s.AddonsChecksum = *addonsChecksum
	}
	if *dbEngineVersion != "" {
		s.DBEngineVersion = *dbEngineVersion
	}
	if *allowPlaintextHTTP {
		s.AllowPlaintextHTTP = true
	}
	if *resume {
		s.ResumeEnabled = true
	}
	if *verbose {
		s.Verbose = true
	}

	req, err := cli.ParseUpgradeRequest(s.SourceLocation, s.TargetMajor, s.ExtraAddonsLocation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	s.SourceLocation = req.Source
	s.TargetMajor = req.TargetMajor
	s.ExtraAddonsLocation = req.ExtraAddons

	if err := s.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *verbose {
		os.Setenv("LOG_LEVEL", "debug")
	}
	logger.Init()

	confirmer := cli.NewConfirmer()
	confirmer.ConfirmOrExit(&cli.UpgradeSummary{
		Source:      s.SourceLocation,
		TargetMajor: s.TargetMajor,
		ExtraAddons: s.ExtraAddonsLocation,
		DBEngine:    s.DBEngineVersion,
		Resume:      s.ResumeEnabled,
	}, *yes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not resolve working directory: %v\n", err)
		return 1
	}

	orch, err := orchestrator.New(ctx, s, logger.Named("orchestrator"), root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return orch.Run(ctx)
}

func printHelp() {
	fmt.Print(`dbupgrader - ERP database upgrade orchestrator

USAGE:
  dbupgrader [FLAGS]

FLAGS:
  --source string              Source database: local .zip/.dump path or HTTPS URL (required)
  --target string               Target major version, e.g. 17.0 (required)
  --extra-addons string          Custom addons: directory, .zip file, or URL
  --source-checksum string       Expected SHA-256 of the source file
  --addons-checksum string       Expected SHA-256 of the addons archive
  --db-engine-version string     Postgres image tag for the run database
  --allow-plaintext-http         Allow downloading over plain HTTP
  --resume                       Resume a previous run from its last completed step
  --yes                          Skip the confirmation prompt
  --verbose                      Enable debug-level logging
  --env-file string              Optional .env-style file to load (default ".env")
  help                           Show this help message
`)
}
