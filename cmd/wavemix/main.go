package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/edirooss/wavemix/internal/config"
	"github.com/edirooss/wavemix/internal/infrastructure/pactlexec"
	"github.com/edirooss/wavemix/internal/repo"
	"github.com/edirooss/wavemix/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "path to wavemix.yaml (default: search ./, $XDG_CONFIG_HOME/wavemix, /etc/wavemix)")
	dumpState  = flag.Bool("dump", false, "build the topology, dump engine state and exit")
)

func init() {
	// Handle version display
	handleVersion()
}

func main() {
	// Create Zap logger
	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	// Load config
	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := loadConfig(path)
	if err != nil {
		log.Fatal("failed to load config", zap.String("path", path), zap.Error(err))
	}

	if err := pactlexec.CheckInstalled(cfg.Pactl.Binary); err != nil {
		log.Fatal("audio control utility missing", zap.Error(fmt.Errorf("%w: %v", service.ErrEnvironmentUnavailable, err)))
	}
	runner := pactlexec.NewExecRunner(log, pactlexec.Options{Binary: cfg.Pactl.Binary, Timeout: cfg.Pactl.Timeout()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional Redis mirror for out-of-process front ends
	var mirror service.StateMirror
	var publisher service.LevelPublisher
	if cfg.Redis.Address != "" {
		rp := repo.NewRepository(log, repo.Options{Address: cfg.Redis.Address, DB: cfg.Redis.DB})
		defer rp.Close()
		if err := rp.Ping(ctx); err != nil {
			log.Warn("redis mirror not reachable at startup", zap.String("address", cfg.Redis.Address), zap.Error(err))
		}
		mirror, publisher = rp.Channels, rp.Levels
	}

	devices := service.NewDeviceLister(log, runner, service.DeviceListerOptions{})
	engine, err := service.NewEngine(log, runner, engineOptions(ctx, cfg, devices, mirror))
	if err != nil {
		log.Fatal("engine creation failed", zap.Error(err))
	}

	rep, err := engine.Build(ctx)
	if err != nil {
		log.Fatal("topology build failed", zap.Error(err))
	}

	if *dumpState {
		dump(ctx, engine, devices, rep)
		return
	}

	feed := service.NewLevelFeed(log, engine, service.LevelFeedOptions{
		Interval:  cfg.Feed.Interval(),
		Publisher: publisher,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	if path != "" {
		watcher := service.NewConfigWatcher(log, path, cfg, 0, func(ctx context.Context, next *config.Config) {
			if _, err := engine.Reconfigure(ctx, engineOptions(ctx, next, devices, nil)); err != nil {
				log.Error("rebuild after config change failed", zap.Error(err))
			}
		})
		g.Go(func() error { return watcher.Run(gctx) })
	}

	log.Info("wavemix running",
		zap.Strings("channels", cfg.Audio.Channels),
		zap.String("output", engine.OutputDevice()),
		zap.Bool("redis", cfg.Redis.Address != ""),
	)
	if err := g.Wait(); err != nil {
		log.Error("stopped with error", zap.Error(err))
	}
	log.Info("shutdown")
}

// handleVersion prints build metadata and exits when -v/--version is provided.
func handleVersion() {
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("wavemix %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		os.Exit(0)
	}
}

// helpers

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// engineOptions maps the config file onto the engine, autodetecting the
// output device when none is configured.
func engineOptions(ctx context.Context, cfg *config.Config, devices *service.DeviceLister, mirror service.StateMirror) service.EngineOptions {
	output := cfg.Audio.OutputDevice
	if output == "" {
		output = devices.DefaultOutput(ctx)
	}
	return service.EngineOptions{
		Channels: cfg.Audio.Channels,
		Topology: service.TopologyOptions{
			OutputDevice:    output,
			LatencyMS:       cfg.Audio.LatencyMS,
			Settle:          cfg.Topology.Settle(),
			ResolveTimeout:  cfg.Topology.ResolveTimeout(),
			ResolveInterval: cfg.Topology.ResolveInterval(),
		},
		Mirror: mirror,
	}
}

func dump(ctx context.Context, engine *service.Engine, devices *service.DeviceLister, rep service.BuildReport) {
	apps, appsErr := engine.Applications(ctx)
	levels, levelsErr := engine.Levels(ctx)
	outputs, outputsErr := devices.OutputDevices(ctx)

	sc := spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true, DisableCapacities: true}
	fmt.Println("== build")
	sc.Dump(rep)
	fmt.Println("== channels")
	sc.Dump(engine.Channels())
	fmt.Println("== module ids")
	sc.Dump(engine.ModuleIDs())
	fmt.Println("== indices")
	sc.Dump(engine.Indices())
	fmt.Println("== applications")
	sc.Dump(apps, appsErr)
	fmt.Println("== levels")
	sc.Dump(levels, levelsErr)
	fmt.Println("== output devices")
	sc.Dump(outputs, outputsErr)
	fmt.Println("== recent commands")
	sc.Dump(engine.RecentCommands(20))
}
