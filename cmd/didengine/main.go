// Command didengine is a demonstration CLI for the PREPARE/INGEST engine:
// it loads a kvstore.Store per the resolved config, then exposes each
// engine operation as a subcommand operating on JSON read from stdin or a
// file. It is the engine's own smoke-test harness, not a production
// messaging daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentmesh/didcomm-engine/config"
	"github.com/agentmesh/didcomm-engine/engine"
	"github.com/agentmesh/didcomm-engine/internal/logger"
	"github.com/agentmesh/didcomm-engine/internal/metrics"
	"github.com/agentmesh/didcomm-engine/internal/version"
	"github.com/agentmesh/didcomm-engine/kvstore"
	"github.com/agentmesh/didcomm-engine/kvstore/memory"
	"github.com/agentmesh/didcomm-engine/kvstore/postgres"
)

var (
	configDir string
	environ   string
)

var rootCmd = &cobra.Command{
	Use:     "didengine",
	Version: version.String(),
	Short:   "didengine - PREPARE/INGEST secure messaging engine CLI",
	Long: `didengine exercises the DIDComm-style PREPARE/INGEST engine against a
configured kvstore.Store backend.

It supports generating key-agreement material, preparing a plaintext
message into wire bytes (optionally sealed), and ingesting wire bytes
back into a plaintext message (optionally opened and dispatched through
the protocol registry).`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory containing environment config files")
	rootCmd.PersistentFlags().StringVar(&environ, "env", "", "Environment to load (defaults to DIDCOMM_ENV or development)")
}

// engineRuntime bundles everything a subcommand needs from the resolved
// configuration: the store itself (so keygen can drive keystore directly),
// the engine built over it, and a closer for backends that hold a
// connection (postgres' pool; memory's is a no-op).
type engineRuntime struct {
	kv     kvstore.Store
	engine *engine.Engine
	close  func()
}

// loadRuntime resolves configuration and builds a kvstore.Store and Engine
// over it, logging the resolution it made.
func loadRuntime(ctx context.Context) (*engineRuntime, error) {
	cfg, err := config.Load(config.LoaderOptions{
		ConfigDir:   configDir,
		Environment: environ,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.GetDefaultLogger()
	log.Info("resolved configuration",
		logger.String("environment", cfg.Environment),
		logger.String("kvstore", cfg.KVStore.Type),
	)

	kv, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		addr, path := cfg.Metrics.Addr, cfg.Metrics.Path
		go func() {
			if err := metrics.StartServer(addr, path); err != nil {
				log.Error("metrics server exited", logger.String("error", err.Error()))
			}
		}()
		log.Info("metrics server listening",
			logger.String("addr", addr),
			logger.String("path", path),
		)
	}

	return &engineRuntime{kv: kv, engine: engine.New(kv), close: closeFn}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (kvstore.Store, func(), error) {
	switch cfg.KVStore.Type {
	case "postgres":
		store, err := postgres.NewFromDSN(ctx, cfg.KVStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres kvstore: %w", err)
		}
		return store, store.Close, nil
	case "memory", "":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported kvstore type: %q", cfg.KVStore.Type)
	}
}

// printResult writes an engine.Result to stdout as indented JSON, the
// shared output format for prepare and ingest.
func printResult(result *engine.Result) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
