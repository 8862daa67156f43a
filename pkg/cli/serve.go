package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockhost/pkg/cliconfig"
	"github.com/getmockd/mockhost/pkg/config"
	"github.com/getmockd/mockhost/pkg/control"
	"github.com/getmockd/mockhost/pkg/logging"
	"github.com/getmockd/mockhost/pkg/metrics"
	"github.com/getmockd/mockhost/pkg/mockserver"
	"github.com/getmockd/mockhost/pkg/mqttforward"
	"github.com/getmockd/mockhost/pkg/requestlog"
)

type serveFlags struct {
	serversFile     string
	adminHost       string
	adminPort       int
	bindHost        string
	shutdownTimeout int
	mqttBroker      string
	mqttListen      string
	mqttTopicPrefix string
}

func (a *app) serveCommand() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host mock servers and the control API in the foreground",
		Long: `Start the control API, start every server in the servers file, and run
until interrupted. On SIGINT or SIGTERM all servers are stopped, waiting up
to the shutdown timeout for in-flight requests.`,
		Example: `  # Serve the servers defined in mocks.yaml
  mockhost serve --servers mocks.yaml

  # Publish request logs to an MQTT broker
  mockhost serve --servers mocks.yaml --mqtt-broker tcp://localhost:1883

  # Run an embedded broker and publish request logs to it
  mockhost serve --servers mocks.yaml --mqtt-listen 127.0.0.1:1883`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			a.applyServeFlags(cmd, cfg, &f)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, cfg, logging.FromStrings(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()))
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.serversFile, "servers", "s", "", "Definition file with servers to start (YAML or JSON)")
	fl.StringVar(&f.adminHost, "admin-host", cliconfig.DefaultAdminHost, "Control API listen host")
	fl.IntVar(&f.adminPort, "admin-port", cliconfig.DefaultAdminPort, "Control API listen port")
	fl.StringVar(&f.bindHost, "bind-host", "", "Host mock servers listen on (default: all interfaces)")
	fl.IntVar(&f.shutdownTimeout, "shutdown-timeout", cliconfig.DefaultShutdownTimeout, "Seconds to wait for in-flight requests on stop")
	fl.StringVar(&f.mqttBroker, "mqtt-broker", "", "Forward request logs to this MQTT broker (e.g. tcp://localhost:1883)")
	fl.StringVar(&f.mqttListen, "mqtt-listen", "", "Run an embedded MQTT broker on this address and forward to it")
	fl.StringVar(&f.mqttTopicPrefix, "mqtt-topic-prefix", cliconfig.DefaultMQTTTopicPrefix, "MQTT topic prefix")
	return cmd
}

// applyServeFlags layers explicitly set flags over cfg.
func (a *app) applyServeFlags(cmd *cobra.Command, cfg *cliconfig.Config, f *serveFlags) {
	set := func(flag, key string, apply func()) {
		if cmd.Flags().Changed(flag) {
			apply()
			cfg.Sources[key] = cliconfig.SourceFlag
		}
	}
	set("servers", "serversFile", func() { cfg.ServersFile = f.serversFile })
	set("admin-host", "adminHost", func() { cfg.AdminHost = f.adminHost })
	set("admin-port", "adminPort", func() { cfg.AdminPort = f.adminPort })
	set("bind-host", "bindHost", func() { cfg.BindHost = f.bindHost })
	set("shutdown-timeout", "shutdownTimeout", func() { cfg.ShutdownTimeout = f.shutdownTimeout })
	set("mqtt-broker", "mqttBroker", func() { cfg.MQTTBroker = f.mqttBroker })
	set("mqtt-listen", "mqttListen", func() { cfg.MQTTListen = f.mqttListen })
	set("mqtt-topic-prefix", "mqttTopicPrefix", func() { cfg.MQTTTopicPrefix = f.mqttTopicPrefix })
	set("log-level", "logLevel", func() { cfg.LogLevel = a.logLevel })
	set("log-format", "logFormat", func() { cfg.LogFormat = a.logFormat })
}

// runServe hosts the manager until ctx is done.
func (a *app) runServe(ctx context.Context, cfg *cliconfig.Config, log *slog.Logger) error {
	hub := requestlog.NewHub(cfg.EventBacklog)
	collector := metrics.NewCollector(metrics.WithRuntimeMetrics())
	observers := mockserver.MultiObserver{hub, collector, requestLogger(log)}

	brokerURL := cfg.MQTTBroker
	if cfg.MQTTListen != "" {
		broker, err := mqttforward.NewBroker(mqttforward.BrokerConfig{Addr: cfg.MQTTListen},
			log.With("component", "mqtt-broker"))
		if err != nil {
			return err
		}
		if err := broker.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := broker.Stop(stopCtx); err != nil {
				log.Warn("embedded MQTT broker did not stop cleanly", "error", err)
			}
		}()
		if brokerURL == "" {
			brokerURL = broker.URL()
		}
	}

	if brokerURL != "" {
		fwd, err := mqttforward.New(mqttforward.Config{
			Broker:      brokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, mqttforward.WithLogger(log.With("component", "mqtt")))
		if err != nil {
			return err
		}
		if err := fwd.Connect(ctx); err != nil {
			return err
		}
		defer fwd.Close()
		observers = append(observers, fwd)
		log.Info("forwarding request logs to MQTT", "broker", brokerURL, "prefix", cfg.MQTTTopicPrefix)
	}

	drain := time.Duration(cfg.ShutdownTimeout) * time.Second
	manager := mockserver.NewManager(
		mockserver.WithLogger(log),
		mockserver.WithBindHost(cfg.BindHost),
		mockserver.WithDrainTimeout(drain),
		mockserver.WithObserver(observers),
	)

	api := control.NewServer(manager,
		control.WithLogger(log.With("component", "control")),
		control.WithEvents(hub),
		control.WithMetrics(collector.Handler()),
		control.WithVersion(Version),
	)
	if err := api.Start(ctx, cfg.AdminAddr()); err != nil {
		return err
	}

	shutdown := func() error {
		// ctx is already done here; give the drain its own deadline.
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain+5*time.Second)
		defer cancel()
		manager.StopAllServers(shutCtx)
		return api.Stop(shutCtx)
	}

	if cfg.ServersFile != "" {
		if err := startFromFile(ctx, manager, cfg.ServersFile, log); err != nil {
			return errors.Join(err, shutdown())
		}
	}

	if a.serveReady != nil {
		a.serveReady(api.Addr())
	}
	log.Info("mockhost ready", "admin", api.Addr(), "servers", len(manager.Servers()))

	<-ctx.Done()
	log.Info("shutting down")
	if err := shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func startFromFile(ctx context.Context, manager *mockserver.Manager, path string, log *slog.Logger) error {
	servers, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	for _, srv := range servers {
		if _, err := manager.StartServer(ctx, srv); err != nil {
			return fmt.Errorf("start %s: %w", srv.DisplayName(), err)
		}
	}
	log.Debug("servers file loaded", "path", path, "servers", len(servers))
	return nil
}

// requestLogger writes each request log to the operational log at debug.
func requestLogger(log *slog.Logger) mockserver.Observer {
	return mockserver.ObserverFunc(func(serverID string, l mockserver.RequestLog) {
		log.Debug("request",
			"server", serverID,
			"method", l.Method,
			"path", l.Path,
			"status", l.ResponseStatus,
			"responseTimeMs", l.ResponseTime,
			"endpoint", l.MatchedEndpointID,
		)
	})
}
