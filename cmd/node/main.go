package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uhyunpark/dexledger/params"
	"github.com/uhyunpark/dexledger/pkg/api"
	"github.com/uhyunpark/dexledger/pkg/app/dex"
	"github.com/uhyunpark/dexledger/pkg/metrics"
	"github.com/uhyunpark/dexledger/pkg/sequencer"
	"github.com/uhyunpark/dexledger/pkg/storage"
	"github.com/uhyunpark/dexledger/pkg/util"
)

func main() {
	// Priority: ENV > .env in the working directory > defaults
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(util.LogFile{Path: cfg.Node.LogFile, MaxBackups: 5, MaxAgeDays: 14})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	genesis, err := params.LoadGenesis(cfg.Node.GenesisFile)
	if err != nil {
		sugar.Fatalw("genesis_load_failed", "err", err)
	}

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	walPath := filepath.Join(cfg.Node.DataDir, "tx.wal")
	logged, err := storage.ReadWAL(walPath)
	if err != nil {
		sugar.Fatalw("wal_read_failed", "err", err)
	}
	wal, err := storage.NewFileWAL(walPath)
	if err != nil {
		sugar.Fatalw("wal_open_failed", "err", err)
	}
	defer wal.Close()

	m := metrics.New()
	app, err := dex.New(dex.Config{
		Exchange: cfg.Exchange,
		ChainID:  cfg.Node.ChainID,
		Genesis:  genesis,
		Store:    store,
		WAL:      wal,
		Metrics:  m,
		Logger:   sugar.Named("app"),
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	seq := sequencer.New(app, util.RealClock{}, sequencer.Config{
		BlockTime:  cfg.Node.BlockTime,
		MaxTxBytes: cfg.Node.MaxBlockBytes,
	})
	seq.Store = store
	seq.Logger = sugar.Named("sequencer")

	last, gap, err := sequencer.ResumePoint(store, uint64(app.Height()), app.AppHash(), time.Unix(app.BlockTime(), 0))
	if err != nil {
		sugar.Fatalw("block_load_failed", "err", err)
	}
	if gap {
		indexed, _, _ := store.LastBlock()
		sugar.Warnw("block_index_gap", "app_height", app.Height(), "indexed_height", indexed.Height)
	}
	seq.Resume(last)

	queued, err := app.Recover(logged)
	if err != nil {
		sugar.Fatalw("wal_replay_failed", "err", err)
	}
	sugar.Infow("wal_replayed", "logged", len(logged), "queued", queued)

	apiServer := api.NewServer(app, m.Handler(), sugar.Named("api"))
	app.OnEvent(apiServer.PublishEvent)
	app.OnBlock(apiServer.PublishBlock)

	info := app.Info()
	sugar.Infow("node_starting",
		"exchange", info.Address.Hex(),
		"fee_account", info.FeeAccount.Hex(),
		"fee_percent", info.FeePercent,
		"chain_id", info.ChainID,
		"height", info.Height,
		"block_time_ms", cfg.Node.BlockTime.Milliseconds(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Run(ctx, cfg.API.Addr); err != nil && !errors.Is(err, context.Canceled) {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	go func() {
		if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("sequencer_failed", "err", err)
			stop()
		}
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sugar.Infow("node_stopping", "height", seq.Height())
			return
		case <-ticker.C:
			sugar.Infow("node_progress",
				"height", seq.Height(),
				"mempool", app.MempoolSize(),
				"ws_clients", apiServer.Hub().Clients(),
			)
		}
	}
}

