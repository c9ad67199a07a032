// Command coordinator runs the engine's single coordinator process: the
// sole mutator of world state, driving the tick pipeline described in
// spec.md §4.3 over whichever transport.Bus the config selects.
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

	"github.com/tickforge/ecsengine/internal/core/config"
	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/query"
	"github.com/tickforge/ecsengine/internal/core/schema"
	schemastore "github.com/tickforge/ecsengine/internal/core/schema/store"
	"github.com/tickforge/ecsengine/internal/core/tick"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/transport/inproc"
	"github.com/tickforge/ecsengine/internal/core/transport/quicbus"
	"github.com/tickforge/ecsengine/internal/core/transport/wsgateway"
	"github.com/tickforge/ecsengine/internal/core/world"
)

func main() {
	configPath := flag.String("config", "", "path to coordinator config YAML")
	httpAddr := flag.String("http", "", "address for the websocket query/schema gateway (disabled if empty)")
	flag.Parse()

	cfg, err := config.LoadCoordinator(*configPath)
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

	var schemaReg *schema.Registry
	if cfg.Schema.SQLitePath != "" {
		st, err := schemastore.Open(cfg.Schema.SQLitePath)
		if err != nil {
			logger.Fatal("open schema store", log.Error(err))
			return
		}
		defer func() { _ = st.Close() }()
		schemaReg, err = schema.New(st)
		if err != nil {
			logger.Fatal("load schema registry", log.Error(err))
			return
		}
	} else {
		schemaReg, _ = schema.New(nil)
	}

	store := world.New(logger)
	engine := query.New(store)
	orch := tick.New(store, engine, bus, logger, tick.Config{
		SentinelDrainDeadline: cfg.SentinelDrain,
		TickAckDeadline:       cfg.TickAckTimeout,
		MaxShardRows:          cfg.MaxShardRows,
	}, schemaReg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("start orchestrator", log.Error(err))
		return
	}

	if *httpAddr != "" {
		gw := wsgateway.New(bus, logger)
		if err := gw.Start(ctx); err != nil {
			logger.Fatal("start gateway", log.Error(err))
			return
		}
		go serveGateway(*httpAddr, gw, logger)
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	tickRate := cfg.TickRate
	if tickRate <= 0 {
		tickRate = 20
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / tickRate))
	defer ticker.Stop()

	logger.Info("coordinator started", log.Float64("tick_rate_hz", tickRate))

	for {
		select {
		case <-stopCh:
			logger.Info("coordinator stopping")
			return
		case <-ticker.C:
			if err := orch.RunTick(ctx); err != nil {
				logger.Warn("tick failed", log.Error(err))
			}
		}
	}
}

func serveGateway(addr string, gw *wsgateway.Gateway, logger log.Log) {
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	logger.Info("gateway listening", log.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("gateway server stopped", log.Error(err))
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
		broker := quicbus.NewBroker(quicbus.DefaultConfig(), logger)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := broker.Serve(ctx, addr); err != nil {
				logger.Warn("quicbus broker stopped", log.Error(err))
			}
		}()
		client, err := quicbus.Dial(ctx, quicbus.DefaultConfig(), addr, logger)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		return client, func() error {
			defer cancel()
			_ = client.Close()
			return broker.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", t.Kind)
	}
}
