package main

import (
	"fmt"
	"io"

	"github.com/Brownie44l1/food-classifier/internal/labels"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/predict"
	"github.com/spf13/cobra"
)

var predictTopK int

var predictCmd = &cobra.Command{
	Use:   "predict <image>",
	Short: "Print the most likely labels for an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().IntVarP(&predictTopK, "topk", "k", 0, "Number of labels to print (default $FOODCLASS_TOPK)")
}

func runPredict(cmd *cobra.Command, args []string) error {
	k := predictTopK
	if k <= 0 {
		k = cfg.Model.TopK
	}

	classes, err := labels.Load(classesPath)
	if err != nil {
		return err
	}

	defer model.DestroyRuntime()
	classifier, err := model.Build(model.Options{
		ModelPath:      modelPath,
		MetadataPath:   metadataPath,
		RuntimeLibPath: ortLibPath,
		CheckpointPath: ckptPath,
		Classes:        classes,
	}, logger)
	if err != nil {
		return err
	}
	defer classifier.Close()

	preds, err := predict.New(classifier, logger).PredictFile(cmd.Context(), args[0], k)
	if err != nil {
		return err
	}

	return printPredictions(cmd.OutOrStdout(), preds)
}

// printPredictions writes one "label (xx.xx% confidence)" line per result.
func printPredictions(w io.Writer, preds []model.Prediction) error {
	for _, p := range preds {
		if _, err := fmt.Fprintf(w, "%s (%.2f%% confidence)\n", p.Label, p.Confidence); err != nil {
			return err
		}
	}
	return nil
}
