package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yourusername/powchain/internal/blockchain"
	"github.com/yourusername/powchain/internal/config"
	"github.com/yourusername/powchain/internal/logging"
	"github.com/yourusername/powchain/internal/metrics"
	"github.com/yourusername/powchain/internal/pow"
	"github.com/yourusername/powchain/internal/producer"
)

func main() {
	cfg, err := config.Parse("powchain-node", os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Node failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	miner := pow.NewMiner(pow.Difficulty(cfg.Mining.Difficulty),
		pow.WithWorkers(cfg.Mining.Workers),
		pow.WithMaxTrials(cfg.Mining.MaxTrials),
		pow.WithLogger(logger),
		pow.WithMetrics(m))

	bc, err := blockchain.New(miner, blockchain.WithLogger(logger), blockchain.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create blockchain: %w", err)
	}
	defer bc.Close()

	logger.Info("Starting node",
		zap.Int("difficulty", cfg.Mining.Difficulty),
		zap.Int("workers", miner.Workers()),
		zap.Uint64("max_trials", cfg.Mining.MaxTrials))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := producer.New(bc,
		producer.WithPayload(cfg.Producer.Payload),
		producer.WithAuditInterval(cfg.Producer.AuditInterval),
		producer.WithLogger(logger))

	runErr := p.Run(ctx, cfg.Producer.Blocks)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	stats := p.Stats()
	indexed, err := bc.IndexedCount()
	if err != nil {
		return fmt.Errorf("failed to count indexed blocks: %w", err)
	}
	logger.Info("Summary",
		zap.Int("height", bc.Height()),
		zap.Int("indexed", indexed),
		zap.Uint64("produced", stats.Produced),
		zap.Uint64("appended", stats.Appended),
		zap.Uint64("rejected", stats.Rejected),
		zap.Uint64("audits", stats.Audits),
		zap.Uint64("failed_audits", stats.FailedAudits))

	// A bounded run ends by printing the chain
	if cfg.Producer.Blocks > 0 && runErr == nil {
		bc.PrintChain(os.Stdout)
	}

	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		logger.Info("Metrics written", zap.String("path", cfg.Metrics.Textfile))
	}

	if runErr != nil {
		return runErr
	}

	if bc.Height() > 0 {
		if err := bc.ValidateChain(); err != nil {
			return fmt.Errorf("blockchain validation failed: %w", err)
		}

		tip, err := bc.GetBlockByHeight(uint64(bc.Height() - 1))
		if err != nil {
			return fmt.Errorf("tip missing from block index: %w", err)
		}
		logger.Info("Tip", zap.Uint64("block_id", tip.ID), zap.String("hash", tip.Hash))
	}
	return nil
}
