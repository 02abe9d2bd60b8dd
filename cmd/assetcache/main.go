// Command assetcache runs the asset cache scanner and works with character
// data archives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/config"
	"github.com/meigma/assetcache/internal/logging"
)

const usage = `usage: assetcache <command> [flags]

commands:
  run       scan continuously and serve metrics
  scan      run one reconciliation pass
  import    copy files into the cache and index them
  save      write an archive from a JSON manifest
  inspect   print an archive header
  extract   extract an archive into scratch files
  clean     remove scratch files and evict down to the cache ceiling
`

type command struct {
	name string
	run  func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"run", runCmd},
	{"scan", scanCmd},
	{"import", importCmd},
	{"save", saveCmd},
	{"inspect", inspectCmd},
	{"extract", extractCmd},
	{"clean", cleanCmd},
}

// env is shared by every command.
type env struct {
	configPath string
	stdout     io.Writer
	logger     *slog.Logger
}

// service opens the configuration and builds a Service from it.
func (e *env) service(ctx context.Context) (*assetcache.Service, error) {
	store, err := config.Open(e.configPath)
	if err != nil {
		return nil, err
	}
	return assetcache.New(ctx, store, assetcache.WithLogger(e.logger))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "assetcache:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("assetcache", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", envOr("ASSETCACHE_CONFIG", "assetcache.yaml"), "configuration file")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("no command given")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	e := &env{
		configPath: *configPath,
		stdout:     stdout,
		logger:     logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, stderr),
	}

	name, rest := global.Arg(0), global.Args()[1:]
	for _, c := range commands {
		if c.name == name {
			return c.run(ctx, e, rest)
		}
	}
	global.Usage()
	return fmt.Errorf("unknown command %q", name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
