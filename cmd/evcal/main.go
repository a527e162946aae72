package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KaleabTm/event-mangement-system/internal/config"
	"github.com/KaleabTm/event-mangement-system/internal/export"
	"github.com/KaleabTm/event-mangement-system/internal/ics"
	appLog "github.com/KaleabTm/event-mangement-system/internal/log"
	"github.com/KaleabTm/event-mangement-system/internal/metrics"
	"github.com/KaleabTm/event-mangement-system/internal/store"
	"github.com/KaleabTm/event-mangement-system/internal/web"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	exportDir  string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.exportDir != "" {
		conf.ExportDir = flags.exportDir
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}

	if err := appLog.Configure(appLog.ParseLevel(conf.LogLevel), conf.LogFormat); err != nil {
		appLog.Error("failed to configure logger", err)
	}
	defer appLog.Sync()

	appLog.Info("evcal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"events_file", conf.EventsFile,
		"export_dir", conf.ExportDir,
		"export_cron", conf.ExportCron,
		"horizon_days", conf.HorizonDays,
		"feed_count", len(conf.Feeds),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	m := metrics.New()
	st := store.New(conf.EventsFile, feedsOf(conf), ics.NewFetcher(conf.CacheDir, nil), m)
	if err := st.Reload(ctx); err != nil {
		appLog.Error("initial reload failed", err, "events_file", conf.EventsFile)
		os.Exit(1)
	}

	exp := export.New(conf.ExportDir, conf.CalendarName, st, m)

	if flags.once {
		if _, err := exp.Run(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	if conf.ExportDir != "" {
		sched, err := export.Schedule(conf.ExportCron, exp, st.Reload)
		if err != nil {
			appLog.Error("failed to schedule exports", err)
			os.Exit(1)
		}
		sched.Start()
		appLog.Info("next export", "at", sched.Next().Format(time.RFC3339))
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			sched.Stop(stopCtx)
		}()
	} else {
		appLog.Info("export dir not set; scheduled exports disabled")
	}

	if err := web.StartServer(ctx, conf, st, m); err != nil {
		appLog.Error("http server failed", err)
		cancel()
	}

	appLog.Info("evcal exiting")
}

func feedsOf(conf *config.Config) []ics.Feed {
	feeds := make([]ics.Feed, 0, len(conf.Feeds))
	for _, f := range conf.Feeds {
		if f.URL == "" {
			continue
		}
		id := f.ID
		if id == "" {
			id = f.URL
		}
		feeds = append(feeds, ics.Feed{ID: id, URL: f.URL, CalendarID: f.CalendarID})
	}
	return feeds
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.exportDir, "export-dir", "", "Directory for .ics exports (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info or error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one export and exit")

	flag.Parse()

	return cfg
}
