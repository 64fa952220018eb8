package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/natefinch/lumberjack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/app"
	"github.com/opssat/sidloc/config"
	"github.com/opssat/sidloc/internal/server"
	"github.com/opssat/sidloc/launcher"
	"github.com/opssat/sidloc/lifecycle"
	"github.com/opssat/sidloc/metrics"
	"github.com/opssat/sidloc/radio"
	"github.com/opssat/sidloc/runtime"
	"github.com/opssat/sidloc/store"
	"github.com/opssat/sidloc/telemetry"
)

// sidloc: loads the experiment properties, connects to the NMF provider and
// supervisor, requests SDR acquisition, launches the capture binary and
// serves the monitoring and control front door until closed.
func main() {
	opts := sidloc.DefaultOptions()

	propsFile := pflag.String("properties", config.DefaultPropertiesFile, "experiment properties file")
	authValue := pflag.String("auth", os.Getenv("SIDLOC_AUTH"), "Authorization header sent to the NMF services")
	framing := pflag.String("framing", string(opts.Framing), "websocket framing: json or wrp")
	logFile := pflag.String("log-file", "", "also write logs to this rotating file")
	fetchOnStart := pflag.Bool("fetch-on-start", false, "subscribe to params_to_enable once acquisition is accepted")
	pflag.StringVar(&opts.DirectoryURL, "directory", opts.DirectoryURL, "central directory base URL")
	pflag.StringVar(&opts.ProviderURI, "provider-uri", "", "NMF platform provider websocket URI (skips the directory)")
	pflag.StringVar(&opts.SupervisorURI, "supervisor-uri", "", "NMF supervisor websocket URI (skips the directory)")
	pflag.StringVar(&opts.FrontDoorAddr, "addr", opts.FrontDoorAddr, "front door listen address")
	pflag.StringVar(&opts.Launcher.Binary, "binary", opts.Launcher.Binary, "experiment binary")
	pflag.StringVar(&opts.Launcher.OutputFile, "output", opts.Launcher.OutputFile, "output file passed to the experiment binary")
	pflag.StringVar(&opts.Launcher.Dir, "dir", opts.Launcher.Dir, "working directory of the experiment binary")
	pflag.StringVar(&opts.Launcher.GroundDir, "ground-dir", opts.Launcher.GroundDir, "directory the output file is moved to for downlink")
	pflag.BoolVar(&opts.Launcher.CloseOnExit, "close-on-exit", opts.Launcher.CloseOnExit, "close the app once the experiment binary exits")
	pflag.DurationVar(&opts.CallTimeout, "call-timeout", opts.CallTimeout, "timeout of a single remote call")
	pflag.Parse()

	logger := log.Default()
	if *logFile != "" {
		logger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}))
	}
	if *authValue != "" {
		opts.Auth = sidloc.StaticAuth{Value: *authValue}
	}
	opts.Framing = sidloc.Framing(*framing)

	src, err := config.Load(*propsFile)
	if err != nil {
		log.Fatalf("failed to load properties: %v", err)
	}
	rec, err := config.Resolve(src)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runtime.ResolveURIs(ctx, &opts); err != nil {
		log.Fatalf("failed to resolve service URIs: %v", err)
	}

	provider := runtime.NewClient(opts.ProviderURI, opts, logger)
	if err := provider.Connect(ctx); err != nil {
		log.Fatalf("failed to connect to provider: %v", err)
	}
	supervisorClient := runtime.NewClient(opts.SupervisorURI, opts, logger)
	if err := supervisorClient.Connect(ctx); err != nil {
		log.Fatalf("failed to connect to supervisor: %v", err)
	}
	supervisor := runtime.NewSupervisorConsumer(supervisorClient, logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	controller, err := radio.NewController(runtime.NewSDRService(provider), rec,
		radio.WithLogger(logger), radio.WithMetrics(m))
	if err != nil {
		log.Fatalf("invalid radio configuration: %v", err)
	}
	subscriber := telemetry.NewSubscriber(supervisor, store.New(),
		telemetry.WithLogger(logger), telemetry.WithMetrics(m))
	var frontDoor *server.FrontDoorServer
	manager := lifecycle.NewManager(subscriber, supervisor,
		lifecycle.WithLogger(logger), lifecycle.WithMetrics(m),
		lifecycle.WithShutdown(func(ctx context.Context) error {
			if frontDoor == nil {
				return nil
			}
			return frontDoor.Shutdown(ctx)
		}),
		lifecycle.WithExit(func(code int) {
			_ = provider.Close()
			os.Exit(code)
		}))

	var a *app.App
	launcherOpts := []launcher.Option{launcher.WithLogger(logger), launcher.WithMetrics(m)}
	if opts.Launcher.CloseOnExit {
		launcherOpts = append(launcherOpts, launcher.WithOnExit(func(err error) { a.ExperimentDone(err) }))
	}
	a, err = app.New(app.Config{
		Record:       rec,
		Controller:   controller,
		Subscriber:   subscriber,
		Lifecycle:    manager,
		Launcher:     launcher.New(opts.Launcher, launcherOpts...),
		Logger:       logger,
		FetchOnStart: *fetchOnStart,
		CloseTimeout: opts.CallTimeout * 2,
	})
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}

	frontDoor, err = server.StartFrontDoor(server.FrontDoorConfig{
		ListenAddr: opts.FrontDoorAddr,
		FrontDoor:  a,
		Gatherer:   reg,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to start front door: %v", err)
	}
	go func() {
		if err := <-frontDoor.Err(); err != nil {
			log.Printf("front door error: %v", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		log.Printf("error: SDR acquisition was not started: %v", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	log.Printf("sidloc running; front door on %s", frontDoor.Addr())
	<-sigCh
	log.Printf("shutdown signal received; closing")
	cancel()
	a.OnClose(false)
}
