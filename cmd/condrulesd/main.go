package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumenhome/condrules/pkg/audit"
	"github.com/lumenhome/condrules/pkg/config"
	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/events"
	"github.com/lumenhome/condrules/pkg/geofence"
	"github.com/lumenhome/condrules/pkg/logx"
	"github.com/lumenhome/condrules/pkg/metrics"
	"github.com/lumenhome/condrules/pkg/pidfile"
	"github.com/lumenhome/condrules/pkg/plugins"
	"github.com/lumenhome/condrules/pkg/registry"
	"github.com/lumenhome/condrules/pkg/rules"
	"github.com/lumenhome/condrules/pkg/sources/mqttsource"
	"github.com/lumenhome/condrules/pkg/sources/wsplugin"
	"github.com/lumenhome/condrules/pkg/trend"
)

var (
	configPath = flag.String("config", "/etc/config/condrules", "path to the UCI-style configuration file")
	pidPath    = flag.String("pid-file", "", "path to the PID file (overrides the config file's pid_file)")
	logLevel   = flag.String("log-level", "", "override the configured log level (trace|debug|info|warn|error)")
	version    = flag.Bool("version", false, "print version information and exit")
	foreground = flag.Bool("foreground", false, "run without daemonizing (condrulesd never forks; kept for CLI parity)")
)

const (
	appName    = "condrulesd"
	appVersion = "0.1.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	effectiveLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLevel, appName)

	pidFilePath := cfg.PIDFile
	if *pidPath != "" {
		pidFilePath = *pidPath
	}
	pf := pidfile.New(pidFilePath)
	running, existingPID, err := pf.CheckRunning()
	if err != nil {
		logger.Error("failed to check for running instance", "error", err)
		os.Exit(1)
	}
	if running {
		logger.Error("another instance is already running", "existing_pid", existingPID, "pid_file", pidFilePath)
		os.Exit(1)
	}
	if err := pf.Create(); err != nil {
		logger.Error("failed to create pid file", "error", err, "path", pidFilePath)
		os.Exit(1)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			logger.Error("failed to remove pid file", "error", err)
		}
	}()

	logger.Info("starting condrulesd", "version", appVersion, "pid", os.Getpid(), "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	auditStore, err := audit.Open(cfg.AuditDBPath, logger.With("component", "audit"))
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	ruleRegistry, err := registry.Open(cfg.RegistryDBPath, logger.With("component", "registry"))
	if err != nil {
		logger.Error("failed to open rule registry", "error", err)
		os.Exit(1)
	}
	defer ruleRegistry.Close()

	reg := prometheus.NewRegistry()
	sink := metrics.NewSink(reg)

	e := engine.New(ctx)
	e.SetRecorder(auditStore)
	e.SetMetrics(sink)

	pluginSvc := plugins.NewService(e, logger.With("component", "plugins"))
	eventSvc := events.NewService(e, logger.With("component", "events"))
	manager := rules.NewManager(e, pluginSvc, ruleRegistry, logger.With("component", "rules"))

	if cfg.MQTTEnabled {
		src := mqttsource.New(mqttsource.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topics:   cfg.MQTTTopics,
			QoS:      1,
		}, e, logger.With("component", "mqttsource"))
		eventSvc.RegisterSource(ctx, src.Run)
	}

	if cfg.StreamEnabled {
		streamPlugin := wsplugin.New(cfg.StreamURL, logger.With("component", "wsplugin"))
		if _, err := pluginSvc.RegisterPlugin(ctx, streamPlugin); err != nil {
			logger.Error("failed to register stream plugin", "error", err)
		}
	}

	if cfg.TrendEnabled {
		trendPlugin := trend.NewPlugin(trend.NewUtils(logger.With("component", "trend")))
		if _, err := pluginSvc.RegisterPlugin(ctx, trendPlugin); err != nil {
			logger.Error("failed to register trend plugin", "error", err)
		}
	}

	if cfg.GeofenceEnabled {
		geofenceUtils, err := geofence.NewUtils(cfg.GeofenceAPIKey, e, logger.With("component", "geofence"))
		if err != nil {
			logger.Error("failed to construct geofence utility", "error", err)
		} else if _, err := pluginSvc.RegisterPlugin(ctx, geofence.NewPlugin(geofenceUtils)); err != nil {
			logger.Error("failed to register geofence plugin", "error", err)
		}
	}

	if cfg.MetricsListener {
		go serveMetrics(cfg.MetricsPort, reg, logger)
	}
	if cfg.HealthListener {
		go serveHealth(cfg.HealthPort, logger)
	}

	installExampleRules(ctx, manager)

	logger.Info("condrulesd running")
	<-ctx.Done()

	// Give rule tasks, event sources, and plugin loops a grace window to
	// observe cancellation and exit before the process does.
	time.Sleep(cfg.ShutdownGrace)
	logger.Info("condrulesd shutting down")
}

func serveMetrics(port int, reg *prometheus.Registry, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics listener starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener exited", "error", err)
	}
}

func serveHealth(port int, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	addr := fmt.Sprintf(":%d", port)
	logger.Info("health listener starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("health listener exited", "error", err)
	}
}

// installExampleRules wires a couple of illustrative rules demonstrating
// TriggerRule, TimerRule, and wait_for, matching the spec's worked examples.
func installExampleRules(ctx context.Context, manager *rules.Manager) {
	heartbeat := rules.TimerRule{
		TimeProvider: func() (*time.Time, error) {
			next := time.Now().Add(time.Hour)
			return &next, nil
		},
		Routine: func(u *rules.RuleUtils) error {
			return nil
		},
	}
	manager.InstallTimedRule(ctx, heartbeat, "heartbeat")

	startupGreeting := rules.TriggerRule{
		TriggerProvider: func(u *rules.RuleUtils) (engine.Condition, error) {
			return u.True("startup"), nil
		},
		Routine: func(u *rules.RuleUtils) error {
			_, err := u.WaitFor(ctx, u.True("settle"), nil, durationPtr(time.Second))
			return err
		},
	}
	manager.InstallTriggerRule(ctx, startupGreeting, "startup-greeting")
}

func durationPtr(d time.Duration) *time.Duration { return &d }
