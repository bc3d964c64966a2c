// Command novion runs the prompt-driven volumetric segmentation
// service and its artifact maintenance tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TerminallyLazy/Novion/pkg/artifact"
	"github.com/TerminallyLazy/Novion/pkg/config"
	"github.com/TerminallyLazy/Novion/pkg/inference"
	"github.com/TerminallyLazy/Novion/pkg/pipeline"
	"github.com/TerminallyLazy/Novion/pkg/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "novion",
		Short:         "Prompt-driven volumetric medical image segmentation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML configuration file")
	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newSweepCmd(&cfgPath))
	return root
}

// loadConfig layers file configuration and environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func setupLogging() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the segmentation HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	var index *artifact.Index
	if cfg.Artifacts.IndexPath != "" {
		var err error
		index, err = artifact.OpenIndex(cfg.Artifacts.IndexPath)
		if err != nil {
			return err
		}
		defer index.Close()
	}

	store, err := artifact.NewStore(cfg.Artifacts.Dir, index)
	if err != nil {
		return err
	}

	endpoint := cfg.Model.Endpoint
	checkpoint := cfg.Model.CheckpointPath
	handle := inference.NewHandle(func() (inference.SegmentationModel, error) {
		return inference.NewRemoteModel(endpoint, checkpoint)
	})

	probe := inference.NvidiaSMIProbe{}
	engine := &pipeline.Engine{
		Handle:    handle,
		Transform: inference.PadResizeTransform{},
		Batch: inference.BatchPolicy{
			ConfiguredSize: cfg.Inference.SliceBatchSize,
			Probe:          probe,
		},
		Store:            store,
		Validator:        artifact.HeatmapValidator{Enabled: cfg.Artifacts.ValidateHeatmap},
		TargetSize:       cfg.Inference.TargetSize,
		DefaultThreshold: cfg.Inference.Threshold,
	}

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: (&server.Server{Engine: engine, Store: store, Probe: probe}).Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		slog.Info("segmentation service listening", "addr", cfg.Server.ListenAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newSweepCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete artifacts older than the retention TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Artifacts.IndexPath == "" {
				return fmt.Errorf("artifact retention requires artifacts.indexPath")
			}
			if cfg.Artifacts.RetentionTTL <= 0 {
				return fmt.Errorf("artifact retention requires a positive artifacts.retentionTTL")
			}

			index, err := artifact.OpenIndex(cfg.Artifacts.IndexPath)
			if err != nil {
				return err
			}
			defer index.Close()

			removed, err := index.Sweep(cfg.Artifacts.Dir, cfg.Artifacts.RetentionTTL, time.Now())
			if err != nil {
				return err
			}
			slog.Info("retention sweep complete", "removed", removed)
			return nil
		},
	}
}
