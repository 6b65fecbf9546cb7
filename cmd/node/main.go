package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/params"
	"github.com/uhyunpark/hyperorders/pkg/api"
	"github.com/uhyunpark/hyperorders/pkg/app/core"
	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/events"
	"github.com/uhyunpark/hyperorders/pkg/p2p"
	"github.com/uhyunpark/hyperorders/pkg/util"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("node: %v", err)
	}
}

// run returns instead of exiting so deferred closes, the pebble store
// among them, always run
func run() error {
	// ENV > .env in the working directory > defaults
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Devnet: ledger, pool, custody, book ----
	devnet, err := core.NewDevnet(core.DevnetConfigFrom(cfg, sugar))
	if err != nil {
		return fmt.Errorf("devnet: %w", err)
	}
	defer devnet.Close()

	for _, addr := range cfg.Chain.Fund {
		if err := devnet.Fund(addr, cfg.Chain.FundAmount); err != nil {
			return fmt.Errorf("fund %s: %w", addr.Hex(), err)
		}
		sugar.Infow("account_funded", "account", addr.Hex(), "amount", cfg.Chain.FundAmount.String())
	}

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		Book:           devnet.Book,
		Executor:       devnet.Executor,
		Ledger:         devnet.Ledger,
		AllowedOrigins: cfg.Node.AllowedOrigins,
		Logger:         sugar.Named("api"),
	})
	devnet.Events.Add(apiServer.Hub())

	// ---- Event distribution (optional) ----
	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer sink.Close()
		devnet.Events.Add(sink)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if cfg.P2P.Listen != "" {
		gossip, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			return fmt.Errorf("gossip: %w", err)
		}
		defer gossip.Close()
		// remote events reach local websocket clients only
		gossip.SetHandler(apiServer.Hub())
		devnet.Events.Add(gossip)
		sugar.Infow("gossip_enabled", "addrs", gossip.Addrs())
	}

	// ---- Load feeder (optional) ----
	if cfg.Feeder.Enabled {
		feeder, err := core.NewFeeder(devnet, core.FeederConfig{
			Interval: cfg.Feeder.Interval,
			Traders:  cfg.Feeder.Traders,
		}, sugar.Named("feeder"))
		if err != nil {
			return fmt.Errorf("feeder: %w", err)
		}
		go feeder.Run(ctx)
	} else {
		sugar.Info("feeder_disabled")
	}

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- apiServer.Start(ctx, cfg.Node.APIAddr)
	}()

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"data_dir", cfg.Node.DataDir,
		"chain_id", cfg.Chain.ChainID.String(),
		"assets", len(cfg.Chain.Assets),
		"sinks", devnet.Events.Len())

	// Progress logging loop
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-apiErr:
			if err != nil {
				devnet.Drain()
				return fmt.Errorf("api server: %w", err)
			}
		case <-ctx.Done():
			// flush queued events while kafka and gossip are still open
			devnet.Drain()
			sugar.Infow("node_stopping", "orders", devnet.Book.GetOrderCount())
			return nil
		case <-ticker.C:
			sugar.Infow("book_progress",
				"orders", devnet.Book.GetOrderCount(),
				"pending_position", devnet.Book.PendingOrderCount(order.Position),
				"pending_liquidity", devnet.Book.PendingOrderCount(order.Liquidity),
				"pending_withdrawal", devnet.Book.PendingOrderCount(order.Withdrawal),
				"ws_clients", apiServer.Hub().Len())
		}
	}
}
