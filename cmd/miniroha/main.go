// Miniroha validator node daemon.
//
// Usage:
//
//	miniroha                Run node (reads configuration from the environment)
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haschain/miniroha/config"
	"github.com/haschain/miniroha/internal/consensus"
	"github.com/haschain/miniroha/internal/genesis"
	"github.com/haschain/miniroha/internal/keystore"
	klog "github.com/haschain/miniroha/internal/log"
	"github.com/haschain/miniroha/internal/mempool"
	"github.com/haschain/miniroha/internal/node"
	"github.com/haschain/miniroha/internal/p2p"
	"github.com/haschain/miniroha/internal/rpc"
	"github.com/haschain/miniroha/internal/state"
	"github.com/haschain/miniroha/internal/storage"
	"github.com/haschain/miniroha/internal/tx"
	"github.com/haschain/miniroha/internal/txvalidate"
	"github.com/haschain/miniroha/pkg/crypto"
)

func main() {
	// ── 1. Load config from environment ─────────────────────────────────
	cfg := config.FromEnv()

	// ── 2. Init logger ───────────────────────────────────────────────────
	if err := klog.Init("info", false, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("node")

	// ── 3. Open storage ──────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer db.Close()

	store := state.New(db)
	logger.Info().Str("path", cfg.DBPath).Msg("database opened")

	if err := store.RebuildNoncesIfMissing(); err != nil {
		logger.Fatal().Err(err).Msg("failed to rebuild nonce index")
	}

	// ── 4. Bootstrap genesis if this is a fresh store ───────────────────
	bootstrapped, err := store.IsBootstrapped()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to check bootstrap status")
	}
	if !bootstrapped {
		if cfg.GenesisPath == "" {
			logger.Fatal().Msg("store is empty and GENESIS_PATH is not set")
		}
		gcfg, err := config.LoadGenesis(cfg.GenesisPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load genesis file")
		}
		if err := genesis.Bootstrap(store, gcfg, time.Now().Unix()); err != nil {
			logger.Fatal().Err(err).Msg("failed to bootstrap genesis")
		}
		logger.Info().Str("chain_id", gcfg.ChainID).Msg("chain bootstrapped from genesis")
	} else {
		height, _ := store.GetLastHeight()
		logger.Info().Uint64("height", height).Msg("chain resumed from database")
	}

	// ── 5. Load validator key (required for both consensus modes) ──────
	var validatorKey *crypto.PrivateKey
	if cfg.ValidatorKeyPath != "" {
		password, err := keystore.ReadPassword("Validator key password: ")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read validator key password")
		}
		validatorKey, err = keystore.Load(cfg.ValidatorKeyPath, password)
		for i := range password {
			password[i] = 0
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load validator key")
		}
		defer validatorKey.Zero()
	}

	// ── 6. Create mempool ────────────────────────────────────────────────
	pool := mempool.New(mempool.DefaultMaxSize)

	// ── 7. Create P2P transport ──────────────────────────────────────────
	p2pNode := p2p.New(p2p.Config{
		ListenAddr: cfg.P2PListenAddr,
		Port:       cfg.P2PPort,
		Seeds:      cfg.P2PSeeds,
		DataDir:    cfg.P2PDataDir,
	})

	// ── 8. Start consensus engine (BFT) or simple producer ───────────────
	var engine *consensus.Engine
	var simple *node.SimpleProducer

	if cfg.UseBFT {
		if validatorKey == nil || cfg.SelfID == "" {
			logger.Fatal().Msg("USE_BFT=true requires SELF_ID and VALIDATOR_KEY_PATH")
		}
		engine, err = consensus.New(consensus.Config{
			Store:            store,
			Pool:             pool,
			Transport:        p2pNode,
			SelfID:           cfg.SelfID,
			Key:              validatorKey,
			Timeouts:         cfg.Timeouts,
			MaxTxPerBlock:    cfg.MaxTxPerBlock,
			MaxBytesPerBlock: cfg.MaxBytesPerBlock,
			OnCommit: func(height uint64) {
				logger.Info().Uint64("height", height).Msg("block committed via consensus")
			},
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create consensus engine")
		}
	} else if validatorKey != nil && cfg.SelfID != "" {
		// Double commit is only safe when BFT is disabled: with USE_BFT=true,
		// only the engine's commit step (§4.8) may call applier.Apply.
		simple = node.NewSimpleProducer(store, pool, cfg.SelfID, validatorKey, cfg.Timeouts.BlockInterval, cfg.MaxTxPerBlock, cfg.MaxBytesPerBlock)
	}

	p2pNode.SetHandlers(
		func(p consensus.Proposal) {
			if engine != nil {
				engine.HandleProposal(p)
			}
		},
		func(v consensus.PreVote) {
			if engine != nil {
				engine.HandlePreVote(v)
			}
		},
		func(c consensus.PreCommit) {
			if engine != nil {
				engine.HandlePreCommit(c)
			}
		},
		func(t tx.Transaction) {
			if err := txvalidate.Validate(store, t); err != nil {
				return
			}
			hash, err := t.Hash()
			if err != nil {
				return
			}
			pool.Add(hash.String(), t, time.Now())
		},
	)

	if err := p2pNode.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start p2p node")
	}
	defer p2pNode.Stop()

	if engine != nil {
		if err := engine.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start consensus engine")
		}
		defer engine.Stop()
	}
	if simple != nil {
		simple.Start()
		defer simple.Stop()
	}

	// ── 9. Start RPC server ───────────────────────────────────────────────
	server := rpc.New(fmt.Sprintf(":%d", cfg.Port), store, pool, engine, p2pNode)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start rpc server")
	}
	defer server.Stop()

	// ── 10. Startup banner ────────────────────────────────────────────────
	height, _ := store.GetLastHeight()
	logger.Info().
		Uint64("height", height).
		Bool("bft", cfg.UseBFT).
		Int("port", cfg.Port).
		Msg("miniroha node started")

	// ── 11. Wait for shutdown ─────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
}
