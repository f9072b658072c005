package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/specklab/cytonet/config"
	"github.com/specklab/cytonet/model"
	"github.com/specklab/cytonet/training"
	"github.com/specklab/cytonet/vision/dataset"
	"github.com/specklab/cytonet/vision/preprocessing"
)

func newTrainCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier, restarting attempts that fail to converge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runTraining(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "cytonet.yaml", "path to the run configuration")
	return cmd
}

func runTraining(cfg config.Config) error {
	opts := preprocessing.Options{Size: cfg.ImageSize, Mode: preprocessing.ColorMode(cfg.ColorMode)}
	channels, err := preprocessing.Channels(opts.Mode)
	if err != nil {
		return err
	}

	log.WithField("dir", cfg.TrainDir).Info("loading training images")
	full, err := dataset.LoadFolder(cfg.TrainDir, opts, cfg.Classes)
	if err != nil {
		return errors.Wrap(err, "loading training data")
	}

	trainIdx, valIdx, err := training.StratifiedSplit(full.Labels, cfg.TrainFraction)
	if err != nil {
		return err
	}
	trainArr, err := full.Subset(trainIdx)
	if err != nil {
		return errors.Wrap(err, "building training fold")
	}
	valArr, err := full.Subset(valIdx)
	if err != nil {
		return errors.Wrap(err, "building validation fold")
	}
	log.WithFields(log.Fields{
		"train": trainArr.N,
		"val":   valArr.N,
	}).Info("stratified split complete")

	log.WithField("dir", cfg.TestDir).Info("loading test images")
	testArr, err := dataset.LoadFolder(cfg.TestDir, opts, cfg.Classes)
	if err != nil {
		return errors.Wrap(err, "loading test data")
	}

	cycleCfg := training.DefaultCycleConfig()
	cycleCfg.Step = cfg.Step
	cycleCfg.OutputDir = cfg.OutputDir
	cycleCfg.Epochs = cfg.Epochs
	cycleCfg.TrainBatch = cfg.TrainBatch
	cycleCfg.EvalBatch = cfg.EvalBatch
	cycleCfg.FinalCheckEpoch = cfg.Epochs

	cycle := &training.Cycle{
		Config: cycleCfg,
		NewModel: func(attempt int) (*model.Classifier, error) {
			// Every attempt starts from a fresh initialization; the attempt
			// number varies the seed so retries do not repeat the same draw.
			return model.New(model.DropoutConfig(
				channels, len(cfg.Classes), cfg.HiddenUnits, cfg.DropoutRate,
				cfg.Seed+int64(attempt)))
		},
		NewOptimizer: func() (training.Optimizer, error) {
			return training.NewOptimizer(cfg.Optimizer, cfg.LearningRate)
		},
		NewTrain: func() (training.BatchStream, error) {
			return training.NewAugmentedStream(trainArr, cfg.TrainBatch, training.DefaultAugmentConfig(), cfg.Seed)
		},
		NewVal: func() (training.BatchStream, error) {
			return training.NewEvalStream(valArr, cfg.EvalBatch)
		},
		NewTest: func() (training.BatchStream, error) {
			return training.NewEvalStream(testArr, cfg.EvalBatch)
		},
		TrainCount: trainArr.N,
		ValCount:   valArr.N,
		TestCount:  testArr.N,
	}

	outcome, err := cycle.Run()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"attempts":      outcome.Attempts,
		"epochs":        len(outcome.History),
		"test_main_acc": outcome.TestMainAcc,
		"test_aux_acc":  outcome.TestAuxAcc,
		"checkpoint":    outcome.CheckpointPath,
		"metrics":       outcome.MetricsPath,
	}).Info("training cycle complete")
	return nil
}
