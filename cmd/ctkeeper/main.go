package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ctkeeper/ctkeeper/internal/config"
	"github.com/ctkeeper/ctkeeper/internal/engine"
)

const banner = `
       __  __
  _____/ /_/ /_____  ___  ____  ___  _____
 / ___/ __/ //_/ _ \/ _ \/ __ \/ _ \/ ___/
/ /__/ /_/ ,< /  __/  __/ /_/ /  __/ /
\___/\__/_/|_|\___/\___/ .___/\___/_/
                      /_/
`

var version = ""

func getVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func showBanner() {
	fmt.Fprint(os.Stderr, banner)
	fmt.Fprintf(os.Stderr, "\t%s - SCT lifecycle daemon\n\n", getVersion())
}

func configureLogger(verbose, silent, noColor bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if silent {
		level = zerolog.ErrorLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func main() {
	var (
		configPath  string
		once        bool
		verbose     bool
		silent      bool
		noColor     bool
		showVersion bool
	)

	flag.StringVar(&configPath, "c", "ctkeeper.yaml", "path to configuration file")
	flag.StringVar(&configPath, "config", "ctkeeper.yaml", "path to configuration file")
	flag.BoolVar(&once, "once", false, "run a single refresh pass and exit")
	flag.BoolVar(&verbose, "v", false, "verbose/debug output")
	flag.BoolVar(&verbose, "verbose", false, "verbose/debug output")
	flag.BoolVar(&silent, "s", false, "silent mode - errors only, no banner")
	flag.BoolVar(&silent, "silent", false, "silent mode - errors only, no banner")
	flag.BoolVar(&noColor, "nc", false, "disable color output")
	flag.BoolVar(&noColor, "no-color", false, "disable color output")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(getVersion())
		return
	}
	if !silent {
		showBanner()
	}

	logger := configureLogger(verbose, silent, noColor)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config", configPath).Msg("cannot load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot build engine")
	}

	if once {
		errs := eng.RefreshOnce(ctx)
		if err := eng.Close(); err != nil {
			logger.Error().Err(err).Msg("closing audit trail")
		}
		if len(errs) > 0 {
			os.Exit(1)
		}
		return
	}

	logger.Info().
		Str("storage", cfg.StorageDir).
		Dur("interval", cfg.RefreshInterval.Std()).
		Str("enforcement", string(cfg.Enforcement)).
		Msg("starting refresher")

	runErr := eng.Run(ctx)
	if err := eng.Close(); err != nil {
		logger.Error().Err(err).Msg("closing audit trail")
	}
	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("refresher failed")
	}
	logger.Info().Msg("shutdown complete")
}
