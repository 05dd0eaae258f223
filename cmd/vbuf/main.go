// vbuf is an interactive shell over a virtual byte buffer.
//
// Usage:
//
//	vbuf [options] [file]
//
// The buffer is backed by memory (seeded from file, which may be
// xz-compressed) or by a SQLite database (--db). Type 'help' at the prompt
// for the list of commands.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/dshills/vbuf/internal/config"
	"github.com/dshills/vbuf/internal/config/loader"
	"github.com/dshills/vbuf/internal/engine/vbuf"
	"github.com/dshills/vbuf/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options holds the command-line settings.
type options struct {
	configPath  string
	backend     string
	dbPath      string
	logLevel    string
	showVersion bool
	file        string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "vbuf %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logCfg := cfg.Logging()
	logCfg.Output = stderr
	logger := logging.New(logCfg)

	store, err := openStore(cfg, opts.file)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	buf := vbuf.New(store,
		vbuf.WithCacheCapacity(cfg.Cache.CapacityBytes),
		vbuf.WithCacheBlockSize(cfg.Cache.BlockSize),
		vbuf.WithMaxRetainedEdits(cfg.History.MaxRetainedEdits),
		vbuf.WithLogger(logger),
	)
	defer func() {
		if err := buf.Close(); err != nil {
			logger.Error("closing buffer", "error", err)
		}
	}()

	logger.Info("buffer opened", "buffer", buf.ID(), "backend", cfg.Store.Backend, "len", buf.Len())

	repl := NewREPL(buf, stdout, logger)
	if err := repl.Run(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("vbuf", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (.toml, .yaml, .json)")
	fs.StringVarP(&opts.backend, "backend", "b", "", "Store backend (memory, sqlite)")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite database path (implies --backend sqlite)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "vbuf - interactive virtual buffer shell\n\n")
		fmt.Fprintf(stderr, "Usage: vbuf [options] [file]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  vbuf                        Start with an empty in-memory buffer\n")
		fmt.Fprintf(stderr, "  vbuf notes.txt.xz           Load a compressed file into memory\n")
		fmt.Fprintf(stderr, "  vbuf --db buf.db            Open or create a SQLite-backed buffer\n")
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		opts.file = fs.Arg(0)
	default:
		fs.Usage()
		return opts, fmt.Errorf("expected at most one file, got %d", fs.NArg())
	}
	return opts, nil
}

// loadConfig layers the config file, environment and flags, in that order.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(loader.DefaultEnvPrefix); err != nil {
		return nil, err
	}

	if opts.backend != "" {
		cfg.Store.Backend = opts.backend
	}
	if opts.dbPath != "" {
		cfg.Store.Path = opts.dbPath
		if opts.backend == "" {
			cfg.Store.Backend = config.BackendSQLite
		}
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
