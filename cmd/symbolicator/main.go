package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crashsymbol/symbolicator/internal/cache"
	"github.com/crashsymbol/symbolicator/internal/derived"
	"github.com/crashsymbol/symbolicator/internal/download"
	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/logging"
	"github.com/crashsymbol/symbolicator/internal/parsercontract"
	"github.com/crashsymbol/symbolicator/internal/pool"
	"github.com/crashsymbol/symbolicator/internal/registry"
	"github.com/crashsymbol/symbolicator/internal/svcconfig"
	"github.com/crashsymbol/symbolicator/internal/symbolication"
)

// Exit codes from spec §6.
const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitCacheIOError = 2
	exitCleanupError = 3
	exitStartupError = 4
)

// tiers bundles the four on-disk cache tiers the service depends on
// (spec §6 "Persisted state": objects/, object_meta/, symcaches/, cficaches/).
type tiers struct {
	objects, objectMeta, symcaches, cficaches *cache.Tier
}

func openTiers(cfg svcconfig.Config, log *zap.Logger) (*tiers, error) {
	build := func(name string, t svcconfig.Tier) (*cache.Tier, error) {
		return cache.NewTier(name, t.Dir, t.ToCacheConfig(), log)
	}

	objects, err := build("objects", cfg.Cache.Objects)
	if err != nil {
		return nil, err
	}
	objectMeta, err := build("object_meta", cfg.Cache.ObjectMeta)
	if err != nil {
		return nil, err
	}
	symcaches, err := build("symcaches", cfg.Cache.Symcaches)
	if err != nil {
		return nil, err
	}
	cficaches, err := build("cficaches", cfg.Cache.Cficaches)
	if err != nil {
		return nil, err
	}
	return &tiers{objects: objects, objectMeta: objectMeta, symcaches: symcaches, cficaches: cficaches}, nil
}

func (t *tiers) all() []*cache.Tier {
	return []*cache.Tier{t.objects, t.objectMeta, t.symcaches, t.cficaches}
}

func loadConfig(c *cli.Context) (svcconfig.Config, error) {
	path := c.String("config")
	if path == "" {
		return svcconfig.Default(), nil
	}
	return svcconfig.Load(path)
}

// newParser is the injection point for the debug-file parser contract
// (spec §6's "external collaborator"): no production binary-format parser
// is in scope here, so the CLI wires the fixture-backed fake. A real
// deployment swaps this for a concrete parsercontract.Parser.
func newParser() parsercontract.Parser {
	return parsercontract.NewFake()
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}

	log, err := logging.New(zapcore.InfoLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup error: %v", err), exitStartupError)
	}
	defer log.Sync() //nolint:errcheck

	t, err := openTiers(cfg, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup error: %v", err), exitStartupError)
	}

	sources, err := cfg.SourceConfigs()
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}

	ioPool := pool.NewIOPool(cfg.Pool.IOConcurrency)
	cpuPool := pool.NewCPUPool(cfg.Pool.CPUConcurrency)
	pipeline := download.New(ioPool, log)
	builder := derived.NewBuilder(t.objectMeta, t.symcaches, t.cficaches, newParser(), cpuPool, log)
	reg := registry.New[symbolication.Result](cfg.Registry.MaxOccupancy, cfg.Registry.RetentionDuration(), log)
	engine := symbolication.NewEngine(t.objects, pipeline, builder, nil, sources, reg, cpuPool, log)
	_ = engine // handed to the (out-of-scope) HTTP edge by the embedding process

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reapInterval := cfg.Registry.ReapInterval()
	if reapInterval <= 0 {
		reapInterval = 30 * time.Second
	}
	reg.RunReaper(ctx, reapInterval)

	log.Info("symbolicator service started", zap.String("listen", cfg.Listen), zap.Int("sources", len(sources)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down, draining in-flight requests")
	cancel()
	time.Sleep(2 * time.Second) // grace period (spec §5 "drain for a grace period")

	return nil
}

func cleanupCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}

	log, err := logging.New(zapcore.InfoLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup error: %v", err), exitStartupError)
	}
	defer log.Sync() //nolint:errcheck

	t, err := openTiers(cfg, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup error: %v", err), exitStartupError)
	}

	var firstCleanupErr error
	for _, tier := range t.all() {
		if err := tier.Cleanup(); err != nil {
			log.Error("tier cleanup failed", zap.Error(err))
			if firstCleanupErr == nil {
				firstCleanupErr = err
			}
		}
	}
	if firstCleanupErr != nil {
		if errs.Is(firstCleanupErr, errs.KindCacheIO) {
			return cli.Exit(fmt.Sprintf("cache IO error: %v", firstCleanupErr), exitCacheIOError)
		}
		return cli.Exit(fmt.Sprintf("cleanup error: %v", firstCleanupErr), exitCleanupError)
	}

	log.Info("cache cleanup completed")
	return nil
}

func main() {
	app := &cli.App{
		Name:  "symbolicator",
		Usage: "object-resolution and caching substrate for crash symbolication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML config file path",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the service",
				Action: runCommand,
			},
			{
				Name:   "cleanup",
				Usage:  "run cache-layer cleanup once and exit",
				Action: cleanupCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartupError)
	}
}
