package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/food-classifier/internal/dataset"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/train"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	trainOpts = train.DefaultConfig()
	dataDir   string
	noAugment bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune the classifier head on data/train and data/val",
	Long: `Trains a linear head over the frozen backbone.

The data directory holds train/<class>/<image> and, optionally,
val/<class>/<image>. Weights are written to --checkpoint and the label
order to --classes.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&dataDir, "data", "data", "Dataset root containing train/ and val/")
	f.IntVar(&trainOpts.Epochs, "epochs", trainOpts.Epochs, "Training epochs")
	f.IntVar(&trainOpts.BatchSize, "batch-size", trainOpts.BatchSize, "Images per batch")
	f.Float64Var(&trainOpts.LearningRate, "lr", trainOpts.LearningRate, "Adam learning rate")
	f.Uint64Var(&trainOpts.Seed, "seed", trainOpts.Seed, "Seed for head init, shuffling and augmentation")
	f.IntVar(&trainOpts.Workers, "workers", 0, "Concurrent image decodes (0 = GOMAXPROCS)")
	f.BoolVar(&noAugment, "no-augment", false, "Disable random flip and rotation")
}

func runTrain(cmd *cobra.Command, args []string) error {
	trainOpts.Augment = !noAugment

	trainSet, err := dataset.NewImageFolder(filepath.Join(dataDir, "train"))
	if err != nil {
		return err
	}
	var valSet *dataset.ImageFolder
	valDir := filepath.Join(dataDir, "val")
	if _, err := os.Stat(valDir); err == nil {
		if valSet, err = dataset.NewImageFolder(valDir); err != nil {
			return err
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("no validation split, skipping validation", zap.String("dir", valDir))
	} else {
		return err
	}

	metadata, err := model.LoadMetadata(metadataPath)
	if err != nil {
		return err
	}
	defer model.DestroyRuntime()
	backbone, err := model.NewONNXBackbone(modelPath, ortLibPath, metadata)
	if err != nil {
		return err
	}
	defer backbone.Close()

	res, err := train.Run(cmd.Context(), backbone, model.TransformFor(metadata), trainSet, valSet, trainOpts, logger)
	if err != nil {
		return err
	}
	if err := train.Save(res, ckptPath, classesPath); err != nil {
		return err
	}

	last := res.History[len(res.History)-1]
	logger.Info("training complete",
		zap.String("checkpoint", ckptPath),
		zap.String("classes", classesPath),
		zap.Float64("train_acc", last.TrainAcc),
		zap.Float64("val_acc", last.ValAcc))
	fmt.Fprintf(cmd.OutOrStdout(), "Model saved to %s\n", ckptPath)
	return nil
}
