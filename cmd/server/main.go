package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/cdn"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/health"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/invalidation"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/prof"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
	v "github.com/keithlinneman/linnemanlabs-cdninv/internal/version"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/webhookhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (build_id=%s, build_date=%s, go=%s)\n",
			v.AppName, vi.Short(), vi.BuildId, vi.BuildDate, vi.GoVersion)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"dry_run", conf.DryRun,
		"distribution_id", conf.DistributionID,
		"cloudfront_region", conf.CloudFrontRegion,
		"dispatch_timeout", conf.DispatchTimeout,
		"settings_source", conf.SettingsSource,
		"settings_poll_interval", conf.SettingsPollInterval,
		"exclude_content_types", cfg.SplitList(conf.ExcludeContentTypes),
		"common_paths", cfg.SplitList(conf.CommonPaths),
		"webhook_auth", webhookAuthMode(conf),
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Attributes: map[string]string{
			"cdn.distribution_id": conf.DistributionID,
			"cdn.dry_run":         strconv.FormatBool(conf.DryRun),
		},
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}
	clients := newAWSClients(awsCfg, conf)

	// settings: initial load must succeed before the listener reports ready
	settingsSrc, err := settings.NewSource(conf.SettingsSource, clients.settings())
	if err != nil {
		L.Error(ctx, err, "invalid settings source", "settings_source", conf.SettingsSource)
		os.Exit(1)
	}
	settingsMgr := settings.NewManager()
	watcher := settings.NewWatcher(&settings.WatcherOptions{
		Logger:       L.With("component", "settings"),
		Source:       settingsSrc,
		Manager:      settingsMgr,
		PollInterval: conf.SettingsPollInterval,
		Metrics:      m,
		OnSwap: func(s *settings.Snapshot) {
			L.Info(ctx, "settings active",
				"settings_hash", s.Hash,
				"content_types", s.Settings.ContentTypes(),
				"warnings", len(s.Warnings),
			)
		},
	})
	if res, err := watcher.Reload(ctx); err != nil {
		// not fatal: readiness stays red and the poll loop keeps trying
		L.Error(ctx, err, "initial settings load failed", "result", res.String())
	}
	go func() { _ = watcher.Run(ctx) }()

	hooks := settings.NewHooks()
	if common := cfg.SplitList(conf.CommonPaths); len(common) > 0 {
		hooks.Use(settings.AppendPaths(common...))
	}
	registration, err := settings.NewRegistration(cfg.SplitList(conf.ExcludeContentTypes))
	if err != nil {
		L.Error(ctx, err, "invalid content type exclusions")
		os.Exit(1)
	}
	if excluded := registration.Patterns(); len(excluded) > 0 {
		L.Info(ctx, "content types excluded from invalidation", "patterns", excluded)
	}
	lookup := settings.NewLookup(settingsMgr, hooks, registration)

	// invalidation pipeline
	var invalidator cdn.Invalidator
	if !conf.DryRun {
		invalidator = cdn.NewCloudFront(awsCfg, conf.CloudFrontRegion)
	}
	dispatcher := cdn.NewDispatcher(cdn.Config{
		DryRun:         conf.DryRun,
		DistributionID: conf.DistributionID,
		Timeout:        conf.DispatchTimeout,
	}, invalidator, L.With("component", "cdn"), m)

	orchestrator := invalidation.New(invalidation.Options{
		Paths:      lookup,
		Dispatcher: dispatcher,
		Settings:   settingsMgr,
		Logger:     L.With("component", "invalidation"),
		Metrics:    m,
	})

	verifier := newVerifier(conf, clients)
	if verifier == nil {
		L.Warn(ctx, "webhook authentication disabled, set -webhook-secret or -webhook-kms-key-arn")
	}

	// verified events bypass the limiter; it only meters unauthenticated traffic
	var throttle webhookhttp.Throttle
	if conf.RateLimitRPS > 0 {
		throttle = ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) {
				m.IncRateLimitDenied()
			}),
			// logged once per visitor until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
	} else {
		L.Info(ctx, "webhook rate limiting disabled")
	}

	webhookAPI := webhookhttp.NewAPI(webhookhttp.Options{
		Events:      orchestrator,
		Registry:    lookup,
		Settings:    settingsMgr,
		Logger:      L.With("component", "webhookhttp"),
		Verifier:    verifier,
		AuthMetrics: m,
		Throttle:    throttle,
	})

	var gate health.ShutdownGate

	// ready once we are not draining and a settings document is active
	readiness := health.All(
		gate.Probe(),
		health.Named("settings", health.CheckFunc(func(context.Context) error {
			return settingsMgr.ReadyErr()
		})),
	)

	webhookStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    webhookAPI.RegisterRoutes,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		SettingsInfo: settingsMgr,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	}, conf.ShutdownDrain)
	if err != nil {
		L.Error(ctx, err, "failed to start webhook http listener")
		os.Exit(1)
	}
	defer func() { _ = webhookStop(context.Background()) }()

	// admin listener rejects public source addresses; the security group
	// is expected to restrict it to monitoring hosts as well
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Reloader:     watcher,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining",
		"drain", conf.ShutdownDrain,
	)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.ShutdownDrain):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := webhookStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "webhook http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}
