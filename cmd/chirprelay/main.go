package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chirprelay/chirprelay/pkg/config"
	"github.com/chirprelay/chirprelay/pkg/content"
	"github.com/chirprelay/chirprelay/pkg/domain"
	"github.com/chirprelay/chirprelay/pkg/feed"
	"github.com/chirprelay/chirprelay/pkg/ledger"
	"github.com/chirprelay/chirprelay/pkg/media"
	"github.com/chirprelay/chirprelay/pkg/notify"
	"github.com/chirprelay/chirprelay/pkg/scheduler"
	"github.com/chirprelay/chirprelay/pkg/throttle"
	"github.com/chirprelay/chirprelay/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"chirprelay.yml" description:"config file path"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	// webhook URLs usually live in .env, missing file is fine
	_ = godotenv.Load()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Printf("[ERROR] failed to load config: %v", err)
		os.Exit(1)
	}

	// webhook URLs are credentials, keep them out of logs
	setupLog(opts.Debug, cfg.WebhookURLs()...)

	log.Printf("[INFO] starting chirprelay version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	log.Print("[INFO] shutdown complete")
}

// run wires components and blocks until the context is canceled
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	// one request per second per origin keeps mirrors tolerant
	thr := throttle.New(rate.Every(time.Second), 1)

	feedClient := &http.Client{
		Timeout: cfg.Poll.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	mediaClient := &http.Client{Timeout: cfg.Media.Timeout}

	pool := feed.NewPool(cfg.Mirrors, feedClient, thr, cfg.Poll.UserAgent)

	resolver := media.NewResolver(media.Config{
		Client:    mediaClient,
		Throttle:  thr,
		Mirrors:   cfg.Mirrors,
		UserAgent: cfg.Poll.UserAgent,
		Verify:    cfg.Media.Verify,
		JitterMin: cfg.Media.JitterMin,
		JitterMax: cfg.Media.JitterMax,
	})

	pageText := content.NewPageExtractor(mediaClient, thr, cfg.Poll.UserAgent, cfg.Media.Timeout)

	fetcher := feed.NewFetcher(pool, resolver, pageText, cfg.Poll.MaxPosts)

	store, err := ledger.NewStore(cfg.Ledger.Dir)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	destinations := make([]domain.Destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		destinations = append(destinations, domain.Destination{Name: d.Name, Webhook: d.Webhook, Accounts: d.Accounts})
	}

	dispatcher := scheduler.NewDispatcher(scheduler.Config{
		Fetcher:      fetcher,
		Notifier:     notify.NewDiscord(nil),
		Ledger:       store,
		Destinations: destinations,
		Interval:     cfg.Poll.Interval,
		MaxAge:       cfg.Poll.MaxAge,
		MaxWorkers:   cfg.Poll.MaxWorkers,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })

	if cfg.Server.Enabled {
		srv := server.New(cfg, dispatcher, revision, debug)
		g.Go(func() error { return srv.Run(gctx) })
	}

	return g.Wait()
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
