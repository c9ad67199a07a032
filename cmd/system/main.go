// Command system runs a single system-process harness, registering the
// physics system against a coordinator and executing it every tick it is
// scheduled for (spec.md §4.5).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tickforge/ecsengine/internal/core/config"
	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/runtime"
	"github.com/tickforge/ecsengine/internal/core/systems/physics"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/transport/inproc"
	"github.com/tickforge/ecsengine/internal/core/transport/quicbus"
)

func main() {
	configPath := flag.String("config", "", "path to system config YAML")
	name := flag.String("name", "physics", "system name to register as")
	flag.Parse()

	cfg, err := config.LoadSystem(*configPath, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := log.New(config.ParseLevel(cfg.Log.Level))

	bus, closeBus, err := buildBus(cfg.Transport, logger)
	if err != nil {
		logger.Fatal("build transport", log.Error(err))
		return
	}
	defer func() { _ = closeBus() }()

	desc := physics.Descriptor()
	desc.Name = cfg.Name
	h := runtime.New(desc, physics.Step, bus, logger, runtime.Config{
		DataDeadline:      cfg.DataDeadline,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stopCh
		cancel()
	}()

	logger.Info("system starting", log.String("name", cfg.Name))
	if err := h.Run(ctx); err != nil {
		logger.Warn("system exited", log.Error(err))
	}
}

func buildBus(t config.Transport, logger log.Log) (transport.Bus, func() error, error) {
	switch t.Kind {
	case "", "inproc":
		b := inproc.New()
		return b, b.Close, nil
	case "quicbus":
		addr := t.Addr
		if addr == "" {
			addr = "127.0.0.1:4433"
		}
		ctx, cancel := context.WithCancel(context.Background())
		client, err := quicbus.Dial(ctx, quicbus.DefaultConfig(), addr, logger)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		return client, func() error {
			defer cancel()
			return client.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", t.Kind)
	}
}
