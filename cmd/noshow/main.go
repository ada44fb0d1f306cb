package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/SanteonNL/noshow/cmd/noshow/api"
	"github.com/SanteonNL/noshow/cmd/noshow/artifact"
	"github.com/SanteonNL/noshow/cmd/noshow/cache"
	"github.com/SanteonNL/noshow/cmd/noshow/client"
	"github.com/SanteonNL/noshow/cmd/noshow/config"
	"github.com/SanteonNL/noshow/cmd/noshow/datasource"
	"github.com/SanteonNL/noshow/cmd/noshow/evaluator"
	"github.com/SanteonNL/noshow/cmd/noshow/metrics"
	"github.com/SanteonNL/noshow/cmd/noshow/output"
	"github.com/SanteonNL/noshow/cmd/noshow/predictor"
	"github.com/SanteonNL/noshow/cmd/noshow/preprocess"
	"github.com/SanteonNL/noshow/cmd/noshow/store"
	"github.com/SanteonNL/noshow/cmd/noshow/trainer"
	"github.com/SanteonNL/noshow/util"
)

const usage = `usage: noshow <command> [flags]

commands:
  preprocess   clean raw appointment records
  train        fit the classifier and persist the model bundle
  evaluate     score a labelled CSV against the saved model
  serve        run the prediction web server
  submit       send a CSV to a running server for batch prediction
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stdout })).
		Level(level).
		With().Timestamp().Caller().Logger()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := os.Args[1], os.Args[2:]
	startTime := time.Now()

	switch command {
	case "preprocess":
		err = runPreprocess(ctx, cfg, log, args)
	case "train":
		err = runTrain(ctx, cfg, level, args)
	case "evaluate":
		err = runEvaluate(ctx, cfg, log, args)
	case "serve":
		err = runServe(ctx, cfg, log, args)
	case "submit":
		err = runSubmit(ctx, cfg, log, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("Command failed")
	}

	log.Debug().Msgf("Execution time: %s", time.Since(startTime))
}

func runPreprocess(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("preprocess", flag.ExitOnError)
	input := fs.String("input", cfg.RawDataPath, "raw appointments CSV")
	outputPath := fs.String("output", cfg.CleanDataPath, "cleaned CSV to write")
	fs.Parse(args)

	var src datasource.Source = datasource.NewCSVSource(*input)
	if cfg.SourceQueryFile != "" && cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		sqlSource, err := datasource.NewSQLSource(db, cfg.SourceQueryFile, log)
		if err != nil {
			return err
		}
		src = sqlSource
	}

	summary, err := preprocess.NewPreprocessService(log).Run(ctx, src, *outputPath)
	if err != nil {
		return err
	}
	log.Info().
		Int("input_rows", summary.InputRows).
		Int("output_rows", summary.OutputRows).
		Msg("Preprocessing finished")
	return nil
}

func runTrain(ctx context.Context, cfg config.Config, level zerolog.Level, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	input := fs.String("input", cfg.CleanDataPath, "cleaned CSV to train on")
	modelDir := fs.String("model-dir", cfg.ModelDir, "directory for the model bundle")
	predictions := fs.String("predictions", cfg.PredictionsPath, "test split predictions CSV")
	runsDir := fs.String("runs-dir", cfg.RunsDir, "directory for timestamped run output")
	fs.Parse(args)

	run, err := output.NewOutputManager(*runsDir, level)
	if err != nil {
		return err
	}
	defer run.Close()

	report, err := trainer.NewTrainerService(cfg.Training, run.Logger()).Run(ctx, trainer.Options{
		InputPath:       *input,
		ModelDir:        *modelDir,
		PredictionsPath: *predictions,
		Run:             run,
	})
	if err != nil {
		return err
	}

	runLog := run.Logger()
	runLog.Info().
		Float64("accuracy", report.Accuracy).
		Str("run_dir", run.Dir()).
		Msg("Training finished")
	return nil
}

func runEvaluate(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	input := fs.String("input", cfg.CleanDataPath, "labelled CSV to score")
	modelDir := fs.String("model-dir", cfg.ModelDir, "directory of the model bundle")
	plotPath := fs.String("plot", "", "write a confusion matrix heatmap to this PNG")
	fs.Parse(args)

	bundle, err := artifact.Load(*modelDir)
	if err != nil {
		return err
	}

	_, err = evaluator.NewEvaluatorService(bundle, nil, log).Evaluate(ctx, *input, evaluator.Options{
		PlotPath: *plotPath,
	})
	return err
}

func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.HTTPAddr, "listen address")
	modelDir := fs.String("model-dir", cfg.ModelDir, "directory of the model bundle")
	fs.Parse(args)

	bundle, err := artifact.Load(*modelDir)
	if err != nil {
		return err
	}
	log.Info().
		Str("model_dir", util.GetAbsolutePath(*modelDir)).
		Strs("features", bundle.Features).
		Int("tree_depth", bundle.Model.Depth()).
		Msg("Loaded model bundle")

	m := metrics.New()
	var opts []predictor.Option
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		predictionStore := store.NewPredictionStore(db, log)
		if err := predictionStore.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, predictor.WithRecorder(predictionStore))
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.TTL = cfg.ResultCacheTTL
	cacheConfig.CleanupInterval = min(cfg.ResultCacheTTL, cacheConfig.CleanupInterval)
	resultCache := cache.NewResultCache(cacheConfig, log)
	defer resultCache.Stop()

	router, err := api.NewPredictionRouter(predictor.NewPredictorService(bundle, m, log, opts...), resultCache, m, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Msg("Starting prediction server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func runSubmit(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	input := fs.String("input", "", "CSV of appointments to score")
	outputPath := fs.String("output", "predictions.csv", "where to write the scored CSV")
	serverURL := fs.String("server", cfg.ServerURL, "prediction server base URL")
	fs.Parse(args)

	if *input == "" {
		return errors.New("submit: -input is required")
	}
	return client.NewPredictionClient(*serverURL, log).SubmitFile(ctx, *input, *outputPath)
}
