// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command kato wires C1-C11 into a running engine and blocks serving
// the repair-queue worker under supervision until terminated. There is
// no HTTP transport in this build — the processor is the library
// surface; a caller embeds this package or a future transport adapter
// drives Processor directly. Initialization order mirrors the
// teacher's cmd/server/main.go: load config, init logging, open
// stores, build the supervisor tree, then block on signals.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sevakavakians/kato-sub008/internal/config"
	"github.com/sevakavakians/kato-sub008/internal/filter"
	"github.com/sevakavakians/kato-sub008/internal/logging"
	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/observation"
	"github.com/sevakavakians/kato-sub008/internal/predict"
	"github.com/sevakavakians/kato-sub008/internal/processor"
	"github.com/sevakavakians/kato-sub008/internal/store"
	"github.com/sevakavakians/kato-sub008/internal/supervisor"
	"github.com/sevakavakians/kato-sub008/internal/vectorindex"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("starting kato")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	patternStore, err := store.OpenDuckDBPatternStore(ctx, cfg.Storage.PatternDBPath, cfg.Storage.BloomExpectedN, cfg.Storage.BloomFalsePosRate)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open pattern store")
	}
	defer func() {
		if err := patternStore.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing pattern store")
		}
	}()

	metadataStore, err := store.OpenBadgerMetadataStore(cfg.Storage.MetadataDBPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open metadata store")
	}
	defer func() {
		if err := metadataStore.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing metadata store")
		}
	}()

	sessionStore, err := store.OpenBadgerSessionStore(cfg.Storage.SessionDBPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open session store")
	}
	defer func() {
		if err := sessionStore.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing session store")
		}
	}()

	minhashParams := cfg.MinHash.Resolve()

	var index minhash.Index
	if cfg.Storage.IndexDBPath != "" {
		badgerIndex, err := minhash.OpenBadgerIndex(cfg.Storage.IndexDBPath)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to open lsh index")
		}
		defer func() {
			if err := badgerIndex.Close(); err != nil {
				logging.Error().Err(err).Msg("error closing lsh index")
			}
		}()
		index = badgerIndex
	} else {
		index = minhash.NewMemoryIndex()
	}

	var vecIndex *vectorindex.Index
	if cfg.Vector.Dimension > 0 {
		vecIndex = vectorindex.New(cfg.Vector.Dimension)
	}

	registry := filter.NewRegistry(index, filter.LevenshteinScorer{})
	pipeline := filter.NewPipeline(registry)

	observer := &observation.Pipeline{
		VectorIndex:     vecIndex,
		VectorDimension: cfg.Vector.Dimension,
		VectorThreshold: cfg.Vector.Threshold,
	}

	assembler := &predict.Assembler{Stats: metadataStore}

	repairQueue := processor.NewRepairQueue(logging.Logger())
	defer func() {
		if err := repairQueue.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing repair queue")
		}
	}()

	proc := processor.New(
		processor.Config{
			SessionTTL:     cfg.SessionDefaults.SessionTTL,
			PredictTimeout: 2 * time.Second,
			DefaultSession: cfg.SessionDefaults.ToSessionConfig(""),
			MinHashParams:  minhashParams,
		},
		patternStore,
		metadataStore,
		sessionStore,
		index,
		pipeline,
		assembler,
		observer,
		repairQueue,
		logging.Logger(),
	)
	_ = proc // the processor is the library surface; callers embed this binary or wire their own transport.

	repairSupervisor := supervisor.New(logging.NewSlogLogger(), supervisor.DefaultConfig())
	repairSupervisor.Add(&processor.RepairWorker{
		Queue:    repairQueue,
		Metadata: metadataStore,
		Index:    index,
		Params:   minhashParams,
	})

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := repairSupervisor.ServeBackground(sigCtx)

	<-sigCtx.Done()
	logging.Info().Msg("shutdown signal received")

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("repair supervisor exited with error")
		}
	case <-time.After(10 * time.Second):
		logging.Warn().Msg("timed out waiting for repair supervisor shutdown")
	}
}
