package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fruitscan/internal/cfg"
	"fruitscan/internal/client"
	"fruitscan/internal/dataset"
	"fruitscan/internal/inference"
	"fruitscan/internal/metrics"
	"fruitscan/internal/model"
	"fruitscan/internal/server"
	"fruitscan/internal/storage"
	"fruitscan/internal/training"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: fruitscan [-log-level level] [-env file] <command> [flags]

commands:
  train    train a model on a dataset directory or manifest
  predict  classify one or more images
  serve    run the HTTP server
`

func main() {
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error (default from LOG_LEVEL)")
	envFile := flag.String("env", ".env", "Environment file to load before reading configuration")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	settings, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		settings.LogLevel = *logLevel
	}
	setupLogging(settings.LogLevel)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "train":
		err = runTrain(settings, args[1:])
	case "predict":
		err = runPredict(settings, args[1:])
	case "serve":
		err = runServe(settings)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Command failed")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func openStore(s cfg.Settings, m storage.MetricsInterface) (*storage.Store, error) {
	if err := os.MkdirAll(s.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data path: %w", err)
	}
	return storage.Open(s.DataPath, s.ModelDir, s.ModelName, m)
}

func newTrainer(s cfg.Settings, store *storage.Store, m training.MetricsInterface) (*training.Trainer, error) {
	arch, err := model.Build(s.ArchConfig(), s.Vocabulary)
	if err != nil {
		return nil, err
	}
	return training.NewTrainer(arch, store, m)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTrain(s cfg.Settings, args []string) error {
	flags := flag.NewFlagSet("train", flag.ExitOnError)
	datasetPath := flags.String("dataset", "", "Dataset directory (<fruit>/<toxic|non-toxic>/<image>) or YAML manifest")
	epochs := flags.Int("epochs", s.Epochs, "Number of epochs")
	batchSize := flags.Int("batch", s.BatchSize, "Mini-batch size")
	shuffle := flags.Bool("shuffle", s.Shuffle, "Shuffle examples each epoch")
	seed := flags.Int64("seed", s.Seed, "Seed for initialisation, dropout and shuffling")
	remote := flags.String("server", "", "Train on a remote server instead of locally (dataset path is resolved there)")
	useConfigured := flags.Bool("remote", false, "Train on the server at SERVER_URL")
	flags.Parse(args)
	if *remote == "" && *useConfigured {
		*remote = s.ServerURL
	}

	if *datasetPath == "" {
		return fmt.Errorf("-dataset is required")
	}

	if *remote != "" {
		c := client.New(*remote, s.RequestTimeout)
		done, err := c.Train(context.Background(), server.TrainRequest{
			Dataset:   *datasetPath,
			Epochs:    *epochs,
			BatchSize: *batchSize,
			Shuffle:   shuffle,
			Seed:      seed,
		}, func(m server.TrainMessage) {
			log.Info().Int("epoch", m.Epoch).Int("epochs", m.Epochs).Float64("avg_loss", m.AverageLoss).Msg("Epoch complete")
		})
		if err != nil {
			return err
		}
		return printJSON(done)
	}

	store, err := openStore(s, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	trainer, err := newTrainer(s, store, nil)
	if err != nil {
		return err
	}
	examples, err := dataset.Load(*datasetPath)
	if err != nil {
		return err
	}
	summary := dataset.Summarize(examples)
	log.Info().
		Int("total", summary.Total).
		Int("toxic", summary.Toxic).
		Int("non_toxic", summary.NonToxic).
		Int("unlabeled", summary.Unlabeled).
		Interface("by_fruit", summary.ByFruit).
		Msg("Dataset loaded")

	tc := s.TrainingConfig()
	tc.Epochs, tc.BatchSize, tc.Shuffle, tc.Seed = *epochs, *batchSize, *shuffle, *seed

	_, err = trainer.Train(examples, tc, func(p training.Progress) {
		log.Info().Int("epoch", p.Epoch).Int("epochs", p.Epochs).Float64("avg_loss", p.AverageLoss).Msg("Epoch complete")
	})
	return err
}

func runPredict(s cfg.Settings, args []string) error {
	flags := flag.NewFlagSet("predict", flag.ExitOnError)
	remote := flags.String("server", "", "Send images to a remote server instead of predicting locally")
	useConfigured := flags.Bool("remote", false, "Send images to the server at SERVER_URL")
	flags.Parse(args)
	if *remote == "" && *useConfigured {
		*remote = s.ServerURL
	}

	if flags.NArg() == 0 {
		return fmt.Errorf("at least one image path is required")
	}

	var predict func(path string, data []byte) (any, error)
	if *remote != "" {
		c := client.New(*remote, s.RequestTimeout)
		predict = func(path string, data []byte) (any, error) {
			return c.Predict(context.Background(), filepath.Base(path), data)
		}
	} else {
		store, err := openStore(s, nil)
		if err != nil {
			return err
		}
		defer store.Close()
		engine := inference.NewEngine(store, nil)
		predict = func(_ string, data []byte) (any, error) {
			return engine.Predict(data)
		}
	}

	for _, path := range flags.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		result, err := predict(path, data)
		if err != nil {
			if errors.Is(err, storage.ErrModelUnavailable) {
				return fmt.Errorf("no trained model found, run \"fruitscan train\" first: %w", err)
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := printJSON(map[string]any{"file": path, "result": result}); err != nil {
			return err
		}
	}
	return nil
}

func runServe(s cfg.Settings) error {
	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, err := openStore(s, mw)
	if err != nil {
		return err
	}
	defer store.Close()

	trainer, err := newTrainer(s, store, mw)
	if err != nil {
		return err
	}
	engine := inference.NewEngine(store, mw)
	if _, err := engine.Model(); err != nil {
		log.Warn().Err(err).Msg("No model loaded yet, /predict answers 503 until one is trained")
	}

	srv := server.New(server.Config{
		ListenAddr:     s.ListenAddr,
		MaxUploadBytes: s.MaxUploadBytes,
		RequestTimeout: s.RequestTimeout,
		PredictRPS:     s.PredictRPS,
		DatasetRoot:    s.DatasetRoot,
		Training:       s.TrainingConfig(),
	}, engine, trainer, dataset.Load, mw)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
	return nil
}
