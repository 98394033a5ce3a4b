// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 9:41:02 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	serverPort   = flag.Int("port", 0, "Status server port (overrides config, enables the server)")
	serverPortP  = flag.Int("p", 0, "Status server port (shorthand)")
	serverHost   = flag.String("host", "", "Status server host (overrides config)")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	envFile      = flag.String("env-file", ".env", "KEY=value file exported before config load (existing variables win)")
	once         = flag.Bool("once", false, "Worker commands: drain available work and exit instead of polling")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	flag.Usage = usage
}

func usage() {
	fmt.Fprintf(os.Stderr, `Tempo event pipeline %s

Usage: tempo [flags] <command> [args]

Commands:
  migrate              Create or update the database schema
  seed-metros [file]   Load metro reference regions (default: metros.seed_file)
  discover             Submit search tasks for every metro x term, poll and collect results
  recover              Collect tasks completed inside the recovery window
  retrieve <id>...     Collect specific search task ids
  fetch                Render queued URLs and publish their JSON-LD blobs
  parse                Admit queued blobs as raw event records
  normalize            Normalize, geocode and deduplicate raw event records
  enrich               Backfill clean records through the enrichment provider
  schedule             Run the periodic jobs (discovery, recovery, enrich, requeue)
  requeue [status]     Reset raw records in a terminal status (default: error)
  usage                Print geocoding quota usage
  version              Print version information

Flags:
`, common.GetVersion())
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV || flag.Arg(0) == "version" {
		fmt.Printf("Tempo version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	command := flag.Arg(0)
	if command == "" {
		usage()
		os.Exit(2)
	}

	common.InstallCrashHandler("", command)
	defer common.RecoverWithCrashFile()

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("tempo.toml"); err == nil {
			configFiles = append(configFiles, "tempo.toml")
		} else if _, err := os.Stat("deployments/local/tempo.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/tempo.toml")
		}
	}

	// Secrets from .env are exported first so they flow through the TEMPO_* overrides
	exported, err := common.LoadEnvFile(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// defaults -> file1 -> file2 -> ... -> env, then CLI flags
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, finalPort, *serverHost, *logLevel)

	logger = common.SetupLogger(config)
	common.PrintBanner(config, command, logger)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("storage_type", config.Storage.Type).
		Str("queue_backend", config.Queue.Backend).
		Str("log_level", config.Logging.Level).
		Int("env_file_vars", exported).
		Msg("Resolved configuration (sanitized)")

	// Long-running commands finish in-flight work and return once this is cancelled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, flag.Args()[1:]); err != nil {
		logger.Error().Err(err).Str("command", command).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	switch command {
	case "migrate":
		return runMigrate(ctx)
	case "seed-metros":
		return runSeedMetros(ctx, args)
	case "discover":
		return runDiscover(ctx)
	case "recover":
		return runRecover(ctx)
	case "retrieve":
		return runRetrieve(ctx, args)
	case "fetch":
		return runFetch(ctx)
	case "parse":
		return runParse(ctx)
	case "normalize":
		return runNormalize(ctx)
	case "enrich":
		return runEnrich(ctx)
	case "schedule":
		return runSchedule(ctx)
	case "requeue":
		return runRequeue(ctx, args)
	case "usage":
		return runUsage(ctx)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}
