package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"oss.nandlabs.io/golly/lifecycle"

	"github.com/schedulezero/schedulezero/config"
	"github.com/schedulezero/schedulezero/internal/controlplane"
	"github.com/schedulezero/schedulezero/internal/dispatcher"
	"github.com/schedulezero/schedulezero/internal/eventbus"
	"github.com/schedulezero/schedulezero/internal/execlog"
	"github.com/schedulezero/schedulezero/internal/health"
	slogzero "github.com/schedulezero/schedulezero/internal/log"
	"github.com/schedulezero/schedulezero/internal/metrics"
	"github.com/schedulezero/schedulezero/internal/registry"
	"github.com/schedulezero/schedulezero/internal/schedulerloop"
	"github.com/schedulezero/schedulezero/internal/store"
	"github.com/schedulezero/schedulezero/internal/store/memstore"
	"github.com/schedulezero/schedulezero/internal/store/postgres"
	"github.com/schedulezero/schedulezero/internal/transport"
)

func newStartCmd() *cobra.Command {
	var pidfile string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if pidfile == "" {
				pidfile = defaultPidfilePath()
			}
			return runStart(configPath, pidfile)
		},
	}
	cmd.Flags().StringVar(&pidfile, "pidfile", "", "path to write this process's pidfile (default schedulezero.pid)")
	return cmd
}

func runStart(configPath, pidfile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWith(exitConfig, "config: %v", err)
		return nil
	}

	logger := slogzero.New(cfg.SlogLevel(), cfg.LogPretty, os.Stdout)
	metrics.Register()

	selfID := instanceID()

	var (
		sched         store.Store
		healthChecker *health.Checker
		loop          *schedulerloop.Loop
	)
	if cfg.StoreURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := postgres.NewPool(ctx, cfg.StoreURL)
		if err != nil {
			exitWith(exitStoreUnavailable, "store: %v", err)
			return nil
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			exitWith(exitStoreUnavailable, "store: %v", err)
			return nil
		}
		sched = postgres.New(pool, logger)
		healthChecker = health.NewChecker(pool, logger, metrics.HealthCheckUp)
	} else {
		sched = memstore.New(func() {
			if loop != nil {
				loop.Notify()
			}
		})
		healthChecker = health.NewChecker(nil, logger, metrics.HealthCheckUp)
	}

	reg := registry.New(logger, registry.WithSnapshot("handlers.json"))
	log := execlog.New(cfg.RingCapacity, execlog.WithMetrics(metrics.ExecLogMetrics{}))

	disp := dispatcher.New(reg, sched, log, noopPublisher{}, transport.Call, dispatcher.Config{
		GlobalConcurrency:     cfg.DispatcherPool,
		PerHandlerConcurrency: cfg.PerHandlerConcurrency,
		PerAttemptTimeout:     time.Duration(cfg.PerAttemptTimeoutMS) * time.Millisecond,
	}, logger)

	loopOpts := []schedulerloop.Option{}
	var bus *eventbus.Bus
	if cfg.EventBus.Enabled {
		bus, err = eventbus.New(selfID, os.Getpid(), cfg.EventBus.Publish, cfg.EventBus.Subscribe, 5*time.Second, logger)
		if err != nil {
			exitWith(exitGeneric, "event bus: %v", err)
			return nil
		}
		loopOpts = append(loopOpts, schedulerloop.WithLeaderCheck(bus.IsLeader), schedulerloop.WithExternalChanges(bus.Changes()))
	}

	loop = schedulerloop.New(sched, reg, disp, selfID, schedulerloop.Config{
		ClaimTTL:       30 * time.Second,
		MaxIdle:        30 * time.Second,
		RunNowAttempts: cfg.MaxAttempts,
	}, logger, loopOpts...)

	cp := controlplane.New(reg, sched, loop, log, healthChecker, logger, controlplane.WithNotifier(loop))
	router := controlplane.NewRouter(cp, logger)
	httpServer := &http.Server{Addr: cfg.HTTPListen, Handler: router}

	registrationServer, registrationAddr, err := transport.Listen(cfg.RegistrationListen, reg.Methods())
	if err != nil {
		exitWith(exitGeneric, "registration listener: %v", err)
		return nil
	}
	logger.Info("registration endpoint bound", "address", registrationAddr)

	if err := writePidfile(pidfile, os.Getpid()); err != nil {
		logger.Warn("write pidfile", "error", err)
	}
	defer os.Remove(pidfile)

	manager := lifecycle.NewSimpleComponentManager()
	ctx, cancelLoop := context.WithCancel(context.Background())

	manager.Register(&lifecycle.SimpleComponent{
		CompId: "registration_server",
		StartFunc: func() error {
			go func() {
				if err := registrationServer.Serve(); err != nil {
					logger.Debug("registration server stopped", "error", err)
				}
			}()
			return nil
		},
		StopFunc: func() error { return registrationServer.Close() },
	})

	manager.Register(&lifecycle.SimpleComponent{
		CompId: "registry_sweep",
		StartFunc: func() error {
			go reg.Run(ctx, time.Duration(cfg.HeartbeatIntervalMS)*time.Millisecond, time.Duration(cfg.HeartbeatTimeoutMS)*time.Millisecond)
			return nil
		},
		StopFunc: func() error { return nil },
	})

	manager.Register(&lifecycle.SimpleComponent{
		CompId: "scheduler_loop",
		StartFunc: func() error {
			go loop.Run(ctx)
			return nil
		},
		StopFunc: func() error { return nil },
	})

	if bus != nil {
		manager.Register(&lifecycle.SimpleComponent{
			CompId: "event_bus",
			StartFunc: func() error {
				go bus.Run(ctx)
				return nil
			},
			StopFunc: func() error { return nil },
		})
	}

	manager.Register(&lifecycle.SimpleComponent{
		CompId: "http_server",
		StartFunc: func() error {
			go func() {
				logger.Info("control plane started", "address", cfg.HTTPListen)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server", "error", err)
				}
			}()
			return nil
		},
		StopFunc: func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			cancelLoop()
			return httpServer.Shutdown(shutdownCtx)
		},
	})

	if err := manager.StartAll(); err != nil {
		exitWith(exitGeneric, "start: %v", err)
		return nil
	}

	manager.Wait()
	logger.Info("server shut down")
	return nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}
