// Command flask generates correlated harmonic coefficients for a set of sky
// fields from their target angular power spectra.
//
// Usage: flask [config.yaml]
//
// Every configuration key can be overridden through FLASK_* environment
// variables; a .env file next to the working directory is honored.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mehdirezaie/flask/adapters/regularize"
	"github.com/mehdirezaie/flask/app"
	"github.com/mehdirezaie/flask/config"
	"github.com/mehdirezaie/flask/internal/diag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flask:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() // optional

	path := "flask.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))
	rep := diag.NewReporter(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe := app.New(cfg, rep, regularize.New(cfg.RegMaxSteps, cfg.RegMinEig), nil)
	res, err := pipe.Run(ctx)
	if err != nil {
		return err
	}

	if res.ExitedAt != "" {
		log.Info("run stopped at checkpoint", zap.String("exit_at", res.ExitedAt))
	}
	log.Info("run finished", zap.Int64("warnings", res.Warnings))
	return nil
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("FLASK_DEBUG") != "" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}
