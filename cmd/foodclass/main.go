// Command foodclass predicts, trains and inspects the food classifier from
// the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/food-classifier/internal/config"
	"github.com/Brownie44l1/food-classifier/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    config.Config
	logger *zap.Logger

	verbose bool

	// Shared model flags; empty values fall back to the environment config.
	modelPath    string
	metadataPath string
	ortLibPath   string
	classesPath  string
	ckptPath     string
)

var rootCmd = &cobra.Command{
	Use:           "foodclass",
	Short:         "Food image classifier",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, "console")
		if err != nil {
			return err
		}
		applyModelFlags()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&modelPath, "model", "", "Backbone ONNX graph (default $FOODCLASS_MODEL_PATH)")
	pf.StringVar(&metadataPath, "metadata", "", "Backbone metadata JSON (default $FOODCLASS_METADATA_PATH)")
	pf.StringVar(&ortLibPath, "ort-lib", "", "ONNX Runtime shared library (default $FOODCLASS_ORT_LIB_PATH)")
	pf.StringVar(&classesPath, "classes", "", "Label map, JSON or YAML (default $FOODCLASS_CLASSES_PATH)")
	pf.StringVar(&ckptPath, "checkpoint", "", "Head weights in safetensors format (default $FOODCLASS_CHECKPOINT_PATH)")

	rootCmd.AddCommand(predictCmd, trainCmd, historyCmd)
}

func applyModelFlags() {
	if modelPath == "" {
		modelPath = cfg.Model.ModelPath
	}
	if metadataPath == "" {
		metadataPath = cfg.Model.MetadataPath
	}
	if ortLibPath == "" {
		ortLibPath = cfg.Model.RuntimeLibPath
	}
	if classesPath == "" {
		classesPath = cfg.Model.ClassesPath
	}
	if ckptPath == "" {
		ckptPath = cfg.Model.CheckpointPath
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
