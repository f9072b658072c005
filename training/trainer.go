package training

import (
	"github.com/pkg/errors"

	"github.com/specklab/cytonet/model"
	"github.com/specklab/cytonet/tensor"
)

// TerminationReason says how an attempt ended.
type TerminationReason int

const (
	// Completed means the full epoch budget ran.
	Completed TerminationReason = iota
	// Aborted means a hook stopped the attempt early.
	Aborted
)

func (r TerminationReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TrainerConfig fixes the shape of one attempt.
type TrainerConfig struct {
	Epochs          int
	StepsPerEpoch   int
	ValidationSteps int
	MainLossWeight  float64
	AuxLossWeight   float64
	ClassWeights    ClassWeights
}

// Trainer runs a single training attempt: a fixed number of epochs over the
// training stream with per-epoch validation and hooks. It never reuses
// streams or model state across attempts; the caller constructs fresh ones.
type Trainer struct {
	Model      *model.Classifier
	Optimizer  Optimizer
	Train      *MultiOutputStream
	Validation *MultiOutputStream
	Hooks      []EpochHook
	Config     TrainerConfig
}

// Run executes the attempt. Epoch numbering is 1-based. The returned history
// covers every completed epoch, including the one a hook stopped on.
func (t *Trainer) Run() (History, TerminationReason, error) {
	if t.Config.Epochs < 1 || t.Config.StepsPerEpoch < 1 || t.Config.ValidationSteps < 1 {
		return nil, Completed, errors.Errorf(
			"invalid attempt shape: %d epochs, %d steps, %d validation steps",
			t.Config.Epochs, t.Config.StepsPerEpoch, t.Config.ValidationSteps)
	}

	params := t.Model.Parameters()
	trainLoss := WeightedCrossEntropy{Weights: t.Config.ClassWeights}
	valLoss := WeightedCrossEntropy{}

	var history History
	for epoch := 1; epoch <= t.Config.Epochs; epoch++ {
		metrics, err := t.runEpoch(params, trainLoss)
		if err != nil {
			return history, Completed, errors.Wrapf(err, "epoch %d", epoch)
		}
		if err := t.validate(metrics, valLoss); err != nil {
			return history, Completed, errors.Wrapf(err, "epoch %d validation", epoch)
		}
		metrics["epoch"] = float64(epoch)
		metrics["lr"] = t.Optimizer.GetLR()
		history = append(history, metrics)

		stop := false
		for _, hook := range t.Hooks {
			signal, err := hook.OnEpochEnd(epoch, metrics)
			if err != nil {
				return history, Completed, err
			}
			if signal == Stop {
				stop = true
			}
		}
		if stop {
			return history, Aborted, nil
		}
	}
	return history, Completed, nil
}

type runningStats struct {
	loss, mainLoss, auxLoss float64
	batches                 int

	mainCorrect, mainTotal           int
	auxCorrect, auxTotal             int
	mainClassCorrect, mainClassTotal int
	auxClassCorrect, auxClassTotal   int
}

func (s *runningStats) observe(main, aux *tensor.Tensor, labels *tensor.Tensor) {
	c, n := AccuracyCounts(main, labels)
	s.mainCorrect += c
	s.mainTotal += n
	c, n = AccuracyCounts(aux, labels)
	s.auxCorrect += c
	s.auxTotal += n

	c, n = ClassAccuracyCounts(main, labels, 0)
	s.mainClassCorrect += c
	s.mainClassTotal += n
	c, n = ClassAccuracyCounts(aux, labels, 0)
	s.auxClassCorrect += c
	s.auxClassTotal += n
}

func (t *Trainer) runEpoch(params []*tensor.Tensor, loss WeightedCrossEntropy) (EpochMetrics, error) {
	t.Model.Train()
	var stats runningStats

	for step := 0; step < t.Config.StepsPerEpoch; step++ {
		batch, err := t.Train.Next()
		if err != nil {
			return nil, errors.Wrap(err, "reading training batch")
		}

		main, aux, err := t.Model.Forward(batch.Images)
		if err != nil {
			return nil, errors.Wrap(err, "forward pass")
		}

		mainL, err := loss.Loss(main, batch.Labels[0])
		if err != nil {
			return nil, errors.Wrap(err, "main loss")
		}
		auxL, err := loss.Loss(aux, batch.Labels[1])
		if err != nil {
			return nil, errors.Wrap(err, "aux loss")
		}

		total, err := t.combineLosses(mainL, auxL)
		if err != nil {
			return nil, err
		}

		t.Optimizer.ZeroGrad(params)
		if err := total.Backward(); err != nil {
			return nil, errors.Wrap(err, "backward pass")
		}
		if err := t.Optimizer.Step(params); err != nil {
			return nil, errors.Wrap(err, "optimizer step")
		}

		totalV, _ := total.Item()
		mainV, _ := mainL.Item()
		auxV, _ := auxL.Item()
		stats.loss += totalV
		stats.mainLoss += mainV
		stats.auxLoss += auxV
		stats.batches++
		stats.observe(main, aux, batch.Labels[0])
	}

	n := float64(stats.batches)
	metrics := EpochMetrics{}
	metrics["loss"] = stats.loss / n
	metrics["main_output_loss"] = stats.mainLoss / n
	metrics["aux_output_loss"] = stats.auxLoss / n
	metrics["main_output_acc"] = ratio(stats.mainCorrect, stats.mainTotal)
	metrics["aux_output_acc"] = ratio(stats.auxCorrect, stats.auxTotal)
	metrics["main_output_single_class_acc"] = ratio(stats.mainClassCorrect, stats.mainClassTotal)
	metrics["aux_output_single_class_acc"] = ratio(stats.auxClassCorrect, stats.auxClassTotal)
	return metrics, nil
}

// combineLosses builds the optimization target: the weighted head losses plus
// any architecture regularization penalty.
func (t *Trainer) combineLosses(mainL, auxL *tensor.Tensor) (*tensor.Tensor, error) {
	weightedMain, err := tensor.ScaleAutograd(mainL, t.Config.MainLossWeight)
	if err != nil {
		return nil, errors.Wrap(err, "weighting main loss")
	}
	weightedAux, err := tensor.ScaleAutograd(auxL, t.Config.AuxLossWeight)
	if err != nil {
		return nil, errors.Wrap(err, "weighting aux loss")
	}
	total, err := tensor.AddAutograd(weightedMain, weightedAux)
	if err != nil {
		return nil, errors.Wrap(err, "combining losses")
	}

	penalty, err := t.Model.RegularizationLoss()
	if err != nil {
		return nil, errors.Wrap(err, "regularization loss")
	}
	if penalty != nil {
		total, err = tensor.AddAutograd(total, penalty)
		if err != nil {
			return nil, errors.Wrap(err, "adding regularization")
		}
	}
	return total, nil
}

func (t *Trainer) validate(metrics EpochMetrics, loss WeightedCrossEntropy) error {
	t.Model.Eval()
	var stats runningStats

	for step := 0; step < t.Config.ValidationSteps; step++ {
		batch, err := t.Validation.Next()
		if err != nil {
			return errors.Wrap(err, "reading validation batch")
		}

		main, aux, err := t.Model.Forward(batch.Images)
		if err != nil {
			return errors.Wrap(err, "forward pass")
		}

		mainL, err := loss.Loss(main, batch.Labels[0])
		if err != nil {
			return errors.Wrap(err, "main loss")
		}
		auxL, err := loss.Loss(aux, batch.Labels[1])
		if err != nil {
			return errors.Wrap(err, "aux loss")
		}

		mainV, _ := mainL.Item()
		auxV, _ := auxL.Item()
		stats.loss += t.Config.MainLossWeight*mainV + t.Config.AuxLossWeight*auxV
		stats.mainLoss += mainV
		stats.auxLoss += auxV
		stats.batches++
		stats.observe(main, aux, batch.Labels[0])
	}

	n := float64(stats.batches)
	metrics["val_loss"] = stats.loss / n
	metrics["val_main_output_loss"] = stats.mainLoss / n
	metrics["val_aux_output_loss"] = stats.auxLoss / n
	metrics["val_main_output_acc"] = ratio(stats.mainCorrect, stats.mainTotal)
	metrics["val_aux_output_acc"] = ratio(stats.auxCorrect, stats.auxTotal)
	metrics["val_main_output_single_class_acc"] = ratio(stats.mainClassCorrect, stats.mainClassTotal)
	metrics["val_aux_output_single_class_acc"] = ratio(stats.auxClassCorrect, stats.auxClassTotal)
	return nil
}
