package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"light/shielded-pool/computation"
	"light/shielded-pool/config"
	"light/shielded-pool/engine"
	"light/shielded-pool/ledger"
	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"
	"light/shielded-pool/server"
	"light/shielded-pool/validator"

	gnarkLogger "github.com/consensys/gnark/logger"
	"github.com/urfave/cli/v2"
)

const Version = "0.3.0"

func main() {
	runCli()
}

func runCli() {
	gnarkLogger.Set(*logging.Logger())
	app := cli.App{
		Name:                 "shielded-pool",
		Usage:                "confidential token ledger with asynchronous engine callbacks",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name: "setup",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "circuit", Usage: "Type of circuit (\"deposit\" / \"spend\")", Required: true},
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.UintFlag{Name: "tree-depth", Usage: "[Spend]: commitment tree depth", Value: 26},
				},
				Action: func(context *cli.Context) error {
					circuit, err := prover.ParseCircuitType(context.String("circuit"))
					if err != nil {
						return err
					}
					logging.Logger().Info().Str("circuit", string(circuit)).Msg("Running setup")
					system, err := prover.SetupCircuit(circuit, uint32(context.Uint("tree-depth")))
					if err != nil {
						return err
					}
					written, err := prover.WriteSystemToFile(system, context.String("output"))
					if err != nil {
						return err
					}
					logging.Logger().Info().Int64("bytesWritten", written).Msg("Setup completed successfully")
					return nil
				},
			},
			{
				Name:  "keygen",
				Usage: "generate the engine and admin signing seeds and print the keys derived from them",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mxe-secret", Usage: "MXE secret to derive the engine x25519 key from", Required: true},
				},
				Action: func(context *cli.Context) error {
					seed := make([]byte, 32)
					if _, err := rand.Read(seed); err != nil {
						return err
					}
					eng, err := engine.New(seed, []byte(context.String("mxe-secret")))
					if err != nil {
						return err
					}
					x25519Key, err := eng.PublicKey()
					if err != nil {
						return err
					}
					adminSeed := make([]byte, ed25519.SeedSize)
					if _, err := rand.Read(adminSeed); err != nil {
						return err
					}
					fmt.Printf("signing_seed      = %q\n", hex.EncodeToString(seed))
					fmt.Printf("compute_authority = %q\n", eng.Authority().String())
					fmt.Printf("engine_x25519     = %q\n", x25519Key.String())
					fmt.Printf("admin             = %q\n", primitives.SignerAddress(ed25519.NewKeyFromSeed(adminSeed)).String())
					fmt.Printf("# admin seed, keep offline: %s\n", hex.EncodeToString(adminSeed))
					return nil
				},
			},
			{
				Name: "extract-circuit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.UintFlag{Name: "tree-depth", Usage: "Spend circuit tree depth", Value: 26},
				},
				Action: func(context *cli.Context) error {
					path := context.String("output")
					logging.Logger().Info().Msg("Extracting gnark circuits to Lean")
					circuitString, err := prover.ExtractLean(uint32(context.Uint("tree-depth")))
					if err != nil {
						return err
					}
					if err := os.WriteFile(path, []byte(circuitString), 0o644); err != nil {
						return err
					}
					logging.Logger().Info().Str("path", path).Msg("Lean circuits written")
					return nil
				},
			},
			{
				Name: "start",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML configuration file", Required: true},
					&cli.BoolFlag{Name: "json-logging", Usage: "enable JSON logging", Required: false},
					&cli.BoolFlag{Name: "queue-only", Usage: "Run only queue workers (no HTTP server)", Value: false},
					&cli.StringFlag{Name: "address", Usage: "overrides server.address"},
					&cli.StringFlag{Name: "metrics-address", Usage: "overrides server.metrics_address"},
					&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for the job queue (e.g., redis://localhost:6379)"},
				},
				Action: func(context *cli.Context) error {
					cfg, err := config.ReadConfig(context.String("config"))
					if err != nil {
						return fmt.Errorf("failed to read config: %w", err)
					}
					cfg.ApplyEnv()
					if context.IsSet("address") {
						cfg.Server.Address = context.String("address")
					}
					if context.IsSet("metrics-address") {
						cfg.Server.MetricsAddress = context.String("metrics-address")
					}
					if context.IsSet("redis-url") {
						cfg.Queue.Mode = config.QueueRedis
						cfg.Queue.RedisURL = context.String("redis-url")
					}
					if context.Bool("json-logging") || cfg.Server.JSONLogging {
						logging.SetJSONOutput()
					}
					if err := logging.SetLevel(cfg.Server.LogLevel); err != nil {
						return err
					}
					if err := cfg.Validate(); err != nil {
						return fmt.Errorf("invalid config: %w", err)
					}
					return start(&cfg, context.Bool("queue-only"))
				},
			},
			{
				Name: "version",
				Action: func(context *cli.Context) error {
					fmt.Println(Version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Logger().Fatal().Err(err).Msg("App failed.")
	}
}

func start(cfg *config.Config, queueOnly bool) error {
	admin, _ := cfg.AdminAddress()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	l := ledger.New(store, admin)
	defer func() {
		if err := l.Close(); err != nil {
			logging.Logger().Error().Err(err).Msg("Failed to close ledger")
		}
	}()

	keys := prover.NewKeyManager(cfg.Protocol.KeysDir)
	if err := preloadKeys(keys, cfg.Keys); err != nil {
		return err
	}

	var queue server.Queue
	var redisQueue *server.RedisQueue
	if cfg.Queue.Mode == config.QueueRedis {
		redisQueue, err = server.NewRedisQueue(cfg.Queue.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		startCleanupRoutine(redisQueue)
		queue = redisQueue
	} else {
		queue = server.NewMemoryQueue()
	}
	defer queue.Close()

	if stats, err := queue.GetQueueStats(context.Background()); err == nil {
		logging.Logger().Info().Interface("initial_queue_stats", stats).Str("mode", cfg.Queue.Mode).Msg("Queue ready")
	}

	var eng *engine.Engine
	if cfg.Engine.Enabled {
		eng, err = newEngine(cfg.Engine)
		if err != nil {
			return err
		}
	}
	authority, err := computeAuthority(cfg, eng)
	if err != nil {
		return err
	}
	dispatcher := computation.NewDispatcher(l, validator.New(keys), server.NewSubmitter(queue), authority)

	workers := []server.QueueWorker{server.NewCallbackRelay(queue, dispatcher)}
	if eng != nil {
		for range cfg.Engine.Workers {
			workers = append(workers, server.NewEngineWorker(queue, eng))
		}
	}
	for _, w := range workers {
		go w.Start()
	}
	logging.Logger().Info().
		Int("engine_workers", len(workers)-1).
		Str("compute_authority", authority.String()).
		Msg("Queue workers started")

	var instance *server.RunningJob
	if !queueOnly {
		serverConfig := server.Config{
			Address:        cfg.Server.Address,
			MetricsAddress: cfg.Server.MetricsAddress,
			CORSOrigins:    cfg.Server.CORSOrigins,
			APIKey:         cfg.Server.APIKey,
		}
		job := server.Run(&serverConfig, server.New(l, dispatcher, queue))
		instance = &job
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	<-sigint
	logging.Logger().Info().Msg("Received sigint, shutting down")

	logging.Logger().Info().Msg("Stopping queue workers...")
	for i, worker := range workers {
		logging.Logger().Info().Int("worker_id", i+1).Msg("Stopping worker")
		worker.Stop()
	}

	if instance != nil {
		logging.Logger().Info().Msg("Stopping HTTP server...")
		instance.RequestStop()
		instance.AwaitStop()
		logging.Logger().Info().Msg("HTTP server stopped")
	}

	if stats, err := queue.GetQueueStats(context.Background()); err == nil {
		logging.Logger().Info().Interface("final_queue_stats", stats).Msg("Final queue statistics")
	}
	logging.Logger().Info().Msg("Shutdown completed")
	return nil
}

func openStore(cfg config.StorageConfig) (*ledger.Store, error) {
	if cfg.Path == "" {
		logging.Logger().Warn().Msg("No storage path configured, ledger state is kept in memory")
		return ledger.OpenMemoryStore()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	return ledger.OpenStore(cfg.Path, cfg.SyncWrites)
}

// preloadKeys loads the named proving systems ("deposit", "spend_26") so
// the first proof of each kind does not pay for reading keys from disk.
func preloadKeys(keys *prover.KeyManager, names []string) error {
	for _, name := range names {
		circuitName, depthText, _ := strings.Cut(name, "_")
		circuit, err := prover.ParseCircuitType(circuitName)
		if err != nil {
			return err
		}
		var depth uint64
		if depthText != "" {
			depth, err = strconv.ParseUint(depthText, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid key name %q: %w", name, err)
			}
		}
		if _, err := keys.System(circuit, uint32(depth)); err != nil {
			return err
		}
	}
	return nil
}

func newEngine(cfg config.EngineConfig) (*engine.Engine, error) {
	if cfg.SigningSeed == "" {
		return nil, fmt.Errorf("engine.signing_seed is required when the engine is enabled; run keygen to create one")
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(cfg.SigningSeed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("engine.signing_seed: %w", err)
	}
	return engine.New(seed, []byte(cfg.MXESecret))
}

// computeAuthority returns the key callbacks must be signed with. A
// configured key must match the in-process engine when both are present.
func computeAuthority(cfg *config.Config, eng *engine.Engine) (primitives.Ed25519PublicKey, error) {
	if cfg.Protocol.ComputeAuthority == "" {
		return eng.Authority(), nil
	}
	key, err := cfg.ComputeAuthorityKey()
	if err != nil {
		return key, err
	}
	if eng != nil && eng.Authority() != key {
		return key, fmt.Errorf("protocol.compute_authority %s does not match the engine signing seed", key)
	}
	return key, nil
}

func startCleanupRoutine(redisQueue *server.RedisQueue) {
	const maxAge = 24 * time.Hour
	cleanup := func() {
		if _, err := redisQueue.CleanupOldFailedJobs(context.Background(), maxAge); err != nil {
			logging.Logger().Error().Err(err).Msg("Failed to cleanup old failed jobs")
		}
	}
	logging.Logger().Info().Msg("Running immediate cleanup on startup")
	cleanup()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		logging.Logger().Info().Msg("Started failed job cleanup routine (every 1 hour)")
		for range ticker.C {
			cleanup()
		}
	}()
}
