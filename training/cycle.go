package training

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/specklab/cytonet/model"
)

// CycleConfig parameterizes the restart-supervised run.
type CycleConfig struct {
	// Step is the ordinal id used in output file names.
	Step      int
	OutputDir string

	Epochs     int
	TrainBatch int
	EvalBatch  int

	MainLossWeight float64
	AuxLossWeight  float64
	ClassWeights   ClassWeights

	// Early gate: the attempt restarts if the training main-head loss is
	// still above EarlyThreshold at epoch EarlyCheckEpoch. The final gate
	// checks again at the last epoch.
	EarlyCheckEpoch int
	EarlyThreshold  float64
	FinalCheckEpoch int
	FinalThreshold  float64

	PlateauMetric   string
	PlateauFactor   float64
	PlateauPatience int
}

// DefaultCycleConfig returns the production cycle parameters.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		Epochs:          100,
		TrainBatch:      32,
		EvalBatch:       128,
		MainLossWeight:  0.9,
		AuxLossWeight:   0.1,
		ClassWeights:    ClassWeights{0: 5},
		EarlyCheckEpoch: 10,
		EarlyThreshold:  2.0,
		FinalCheckEpoch: 100,
		FinalThreshold:  0.8,
		PlateauMetric:   "val_main_output_acc",
		PlateauFactor:   0.5,
		PlateauPatience: 5,
	}
}

// Cycle trains attempts until one is accepted, then evaluates the held-out
// test set and persists the run. Everything an attempt touches is rebuilt
// per attempt through the factory funcs: a freshly initialized model, a new
// optimizer, and new streams, so no state leaks between attempts. The two
// restart monitors belong to the cycle and are reset before every attempt.
type Cycle struct {
	Config CycleConfig

	NewModel     func(attempt int) (*model.Classifier, error)
	NewOptimizer func() (Optimizer, error)
	NewTrain     func() (BatchStream, error)
	NewVal       func() (BatchStream, error)
	NewTest      func() (BatchStream, error)

	TrainCount int
	ValCount   int
	TestCount  int
}

// Outcome is the result of an accepted run.
type Outcome struct {
	Model   *model.Classifier
	History History

	TestMainAcc float64
	TestAuxAcc  float64

	Attempts       int
	CheckpointPath string
	MetricsPath    string
}

// Run drives attempts sequentially until one passes the acceptance gate.
// There is no retry limit: a workload that never converges restarts forever.
func (c *Cycle) Run() (*Outcome, error) {
	cfg := c.Config
	stepsPerEpoch := c.TrainCount / cfg.TrainBatch
	validationSteps := ceilDiv(c.ValCount, cfg.EvalBatch)
	testSteps := c.TestCount / cfg.EvalBatch

	if stepsPerEpoch < 1 {
		return nil, errors.Errorf("training set of %d images is smaller than one batch of %d", c.TrainCount, cfg.TrainBatch)
	}
	if testSteps < 1 {
		return nil, errors.Errorf("test set of %d images is smaller than one batch of %d", c.TestCount, cfg.EvalBatch)
	}

	checkpointPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("extended_model_%d.json", cfg.Step))
	metricsPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("extended_model_%d.txt", cfg.Step))

	earlyGate := NewRestartMonitor(cfg.EarlyCheckEpoch, "main_output_loss", cfg.EarlyThreshold)
	finalGate := NewRestartMonitor(cfg.FinalCheckEpoch, "main_output_loss", cfg.FinalThreshold)

	var (
		accepted *model.Classifier
		history  History
		attempt  int
	)
	for {
		attempt++
		earlyGate.Reset()
		finalGate.Reset()

		m, opt, train, val, err := c.buildAttempt(attempt)
		if err != nil {
			return nil, err
		}

		trainer := &Trainer{
			Model:      m,
			Optimizer:  opt,
			Train:      train,
			Validation: val,
			Hooks: []EpochHook{
				&CheckpointHook{Path: checkpointPath, Model: m, Optimizer: opt},
				&PlateauHook{
					Metric:    cfg.PlateauMetric,
					Scheduler: NewReduceLROnPlateau(cfg.PlateauFactor, cfg.PlateauPatience, "max"),
					Optimizer: opt,
				},
				earlyGate,
				finalGate,
				LogHook{},
			},
			Config: TrainerConfig{
				Epochs:          cfg.Epochs,
				StepsPerEpoch:   stepsPerEpoch,
				ValidationSteps: validationSteps,
				MainLossWeight:  cfg.MainLossWeight,
				AuxLossWeight:   cfg.AuxLossWeight,
				ClassWeights:    cfg.ClassWeights,
			},
		}

		attemptHistory, reason, err := trainer.Run()
		if err != nil {
			return nil, errors.Wrapf(err, "attempt %d", attempt)
		}
		log.WithFields(log.Fields{
			"attempt": attempt,
			"epochs":  len(attemptHistory),
			"reason":  reason.String(),
		}).Info("attempt finished")

		// The run is retried only when the early gate fired and the final
		// gate did not. Any other combination is accepted as-is, including
		// a run where both gates fired.
		if !earlyGate.Triggered() || finalGate.Triggered() {
			accepted = m
			history = attemptHistory
			break
		}

		log.WithField("attempt", attempt).Info("discarding attempt and restarting with a fresh model")
	}

	testMain, testAux, err := c.evaluateTest(accepted, testSteps)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"test_main_acc": testMain,
		"test_aux_acc":  testAux,
	}).Info("test evaluation complete")

	if err := WriteMetricsFile(metricsPath, history, testMain, testAux); err != nil {
		return nil, err
	}

	return &Outcome{
		Model:          accepted,
		History:        history,
		TestMainAcc:    testMain,
		TestAuxAcc:     testAux,
		Attempts:       attempt,
		CheckpointPath: checkpointPath,
		MetricsPath:    metricsPath,
	}, nil
}

func (c *Cycle) buildAttempt(attempt int) (*model.Classifier, Optimizer, *MultiOutputStream, *MultiOutputStream, error) {
	m, err := c.NewModel(attempt)
	if err != nil {
		return nil, nil, nil, nil, errors.Wrapf(err, "building model for attempt %d", attempt)
	}
	opt, err := c.NewOptimizer()
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "building optimizer")
	}
	trainSrc, err := c.NewTrain()
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "building training stream")
	}
	valSrc, err := c.NewVal()
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "building validation stream")
	}
	train, err := NewMultiOutputStream(trainSrc, 2)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	val, err := NewMultiOutputStream(valSrc, 2)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return m, opt, train, val, nil
}

// evaluateTest runs the accepted model over the held-out stream once, without
// augmentation, and returns the two head accuracies.
func (c *Cycle) evaluateTest(m *model.Classifier, steps int) (mainAcc, auxAcc float64, err error) {
	stream, err := c.NewTest()
	if err != nil {
		return 0, 0, errors.Wrap(err, "building test stream")
	}

	m.Eval()
	var mainCorrect, mainTotal, auxCorrect, auxTotal int
	for step := 0; step < steps; step++ {
		batch, err := stream.Next()
		if err != nil {
			return 0, 0, errors.Wrap(err, "reading test batch")
		}
		main, aux, err := m.Forward(batch.Images)
		if err != nil {
			return 0, 0, errors.Wrap(err, "test forward pass")
		}
		correct, total := AccuracyCounts(main, batch.Labels)
		mainCorrect += correct
		mainTotal += total
		correct, total = AccuracyCounts(aux, batch.Labels)
		auxCorrect += correct
		auxTotal += total
	}
	return ratio(mainCorrect, mainTotal), ratio(auxCorrect, auxTotal), nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
