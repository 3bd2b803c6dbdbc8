package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/time/rate"

	"github.com/hredostate/yebo-sub011/backend"
	"github.com/hredostate/yebo-sub011/config"
	"github.com/hredostate/yebo-sub011/db/blobs"
	"github.com/hredostate/yebo-sub011/db/conflicts"
	"github.com/hredostate/yebo-sub011/db/kv"
	"github.com/hredostate/yebo-sub011/db/outbox"
	"github.com/hredostate/yebo-sub011/db/readcache"
	"github.com/hredostate/yebo-sub011/offline"
)

var (
	logger     *slog.Logger
	configPath string
	verbose    bool
)

func init() {
	flag.StringVar(&configPath, "config", "client.yaml", "Path to the client configuration file")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	store, err := kv.New(kv.Config{Logger: logger, Directory: cfg.DataDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed to open local store: %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	defer store.Close()

	remote, err := backend.NewClient(&backend.Config{
		HostPort:     cfg.Backend.HostPort,
		ClientDomain: cfg.Backend.ClientDomain,
		ApiKey:       cfg.Backend.ApiKey,
		SkipVerify:   cfg.Backend.SkipVerify,
		Timeout:      cfg.Backend.Timeout,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed to build backend client: %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}

	cache := readcache.New(logger, store, cfg.Cache.FrontTTL)
	defer cache.Close()

	engine := offline.New(offline.Config{
		Logger:         logger,
		Remote:         remote,
		Cache:          cache,
		Queue:          outbox.New(logger, store),
		Blobs:          blobs.New(logger, store),
		Conflicts:      conflicts.New(logger, store),
		ConflictTables: cfg.Sync.ConflictTables,
		UpdatedAtField: cfg.Sync.UpdatedAtField,
		RefreshLimit:   rate.Limit(cfg.Sync.RefreshLimit),
		RefreshBurst:   cfg.Sync.RefreshBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	command := args[0]
	switch command {
	case "status":
		runStatus(ctx, remote, engine)
	case "sync":
		runSync(ctx, remote, engine)
	case "queue":
		runQueue(engine)
	case "conflicts":
		runConflicts(engine)
	case "resolve":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "%s resolve requires a conflict key\n", color.RedString("Error:"))
			os.Exit(1)
		}
		runResolve(engine, args[1])
	case "watch":
		runWatch(ctx, cfg, remote, engine)
	default:
		fmt.Fprintf(os.Stderr, "%s Unknown command '%s'\n", color.RedString("Error:"), color.CyanString(command))
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: yebosync [-config client.yaml] [-verbose] <command>\n\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  %s          Show backend reachability and queue depth\n", color.GreenString("status"))
	fmt.Fprintf(os.Stderr, "  %s            Drain the queued writes against the backend\n", color.GreenString("sync"))
	fmt.Fprintf(os.Stderr, "  %s           List pending queued writes\n", color.GreenString("queue"))
	fmt.Fprintf(os.Stderr, "  %s       List unresolved conflicts\n", color.GreenString("conflicts"))
	fmt.Fprintf(os.Stderr, "  %s %s   Mark a conflict resolved\n", color.GreenString("resolve"), color.CyanString("<key>"))
	fmt.Fprintf(os.Stderr, "  %s           Monitor connectivity and sync automatically\n", color.GreenString("watch"))
}

func runStatus(ctx context.Context, remote *backend.Client, engine *offline.Engine) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := remote.Ping(pingCtx); err != nil {
		fmt.Printf("backend:   %s (%s)\n", color.RedString("unreachable"), err)
	} else {
		fmt.Printf("backend:   %s\n", color.HiGreenString("reachable"))
	}

	pending, err := engine.QueueLen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	fmt.Printf("queued:    %d\n", pending)

	unresolved, err := engine.GetConflicts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	fmt.Printf("conflicts: %d\n", len(unresolved))
}

func runSync(ctx context.Context, remote *backend.Client, engine *offline.Engine) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := remote.Ping(pingCtx); err != nil {
		fmt.Fprintf(os.Stderr, "%s backend unreachable: %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}

	before, _ := engine.QueueLen()
	engine.Sync(ctx)
	after, err := engine.QueueLen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	fmt.Printf("replayed %d of %d queued writes", before-after, before)
	if after > 0 {
		fmt.Printf(", %s remain", color.YellowString("%d", after))
	}
	fmt.Println()
}

func runQueue(engine *offline.Engine) {
	items, err := engine.QueueItems()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Println("queue empty")
		return
	}
	for _, item := range items {
		fmt.Printf("%s  %-8s  %s\n",
			color.CyanString("%020d", item.ID),
			item.Op.Kind(),
			item.CreatedAt.Format(time.RFC3339))
	}
}

func runConflicts(engine *offline.Engine) {
	list, err := engine.GetConflicts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	if len(list) == 0 {
		fmt.Println("no unresolved conflicts")
		return
	}
	for _, c := range list {
		fmt.Printf("%s  table=%s  queued=%s  detected=%s\n",
			color.YellowString(c.Key),
			c.Table,
			c.Local.CreatedAt.Format(time.RFC3339),
			c.DetectedAt.Format(time.RFC3339))
	}
}

func runResolve(engine *offline.Engine, key string) {
	if err := engine.MarkConflictResolved(key); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	color.HiGreen("OK")
}

func runWatch(ctx context.Context, cfg *config.Client, remote *backend.Client, engine *offline.Engine) {
	watcher := backend.NewWatcher(logger, remote,
		func() {
			logger.Info("backend reachable")
			engine.NotifyConnectivityRestored(ctx)
		},
		func() {
			logger.Warn("backend unreachable")
			engine.SetOnline(false)
		},
	)

	engine.ScheduleBootSync(ctx, cfg.Sync.BootDelay)
	go watcher.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}
