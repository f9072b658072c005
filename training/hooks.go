package training

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/specklab/cytonet/checkpoints"
	"github.com/specklab/cytonet/model"
)

// Signal tells the trainer whether to keep going after an epoch.
type Signal int

const (
	Continue Signal = iota
	Stop
)

// EpochHook runs after every completed epoch. Returning Stop ends the attempt
// at the epoch boundary; an error aborts the whole cycle.
type EpochHook interface {
	OnEpochEnd(epoch int, metrics EpochMetrics) (Signal, error)
}

// RestartMonitor stops an attempt that has not converged far enough by a
// fixed epoch: it fires when the monitored metric is still above the
// threshold at exactly CheckEpoch. Once fired it stays triggered until Reset,
// so the supervisor can inspect it after the attempt ends.
type RestartMonitor struct {
	CheckEpoch int
	Metric     string
	Threshold  float64

	triggered bool
}

func NewRestartMonitor(checkEpoch int, metric string, threshold float64) *RestartMonitor {
	return &RestartMonitor{CheckEpoch: checkEpoch, Metric: metric, Threshold: threshold}
}

func (m *RestartMonitor) OnEpochEnd(epoch int, metrics EpochMetrics) (Signal, error) {
	if m.triggered {
		return Stop, nil
	}
	if epoch != m.CheckEpoch {
		return Continue, nil
	}
	value, ok := metrics[m.Metric]
	if !ok {
		return Continue, errors.Errorf("restart monitor metric %q missing from epoch metrics", m.Metric)
	}
	if value > m.Threshold {
		m.triggered = true
		log.WithFields(log.Fields{
			"epoch":     epoch,
			"metric":    m.Metric,
			"value":     value,
			"threshold": m.Threshold,
		}).Info("restart condition met, stopping attempt")
		return Stop, nil
	}
	return Continue, nil
}

// Triggered reports whether the monitor has fired since the last Reset.
func (m *RestartMonitor) Triggered() bool { return m.triggered }

// Reset clears the sticky triggered flag for a new attempt.
func (m *RestartMonitor) Reset() { m.triggered = false }

// CheckpointHook overwrites the checkpoint file after every epoch, so the
// file always holds the latest state of the current attempt.
type CheckpointHook struct {
	Path      string
	Model     *model.Classifier
	Optimizer Optimizer
}

func (h *CheckpointHook) OnEpochEnd(epoch int, metrics EpochMetrics) (Signal, error) {
	state := checkpoints.TrainingState{Epoch: epoch, LearningRate: h.Optimizer.GetLR()}
	if err := checkpoints.Save(h.Path, h.Model, state); err != nil {
		return Continue, errors.Wrap(err, "checkpoint hook")
	}
	return Continue, nil
}

// PlateauHook feeds a monitored metric into an LR scheduler and applies the
// result to the optimizer.
type PlateauHook struct {
	Metric    string
	Scheduler LRScheduler
	Optimizer Optimizer
}

func (h *PlateauHook) OnEpochEnd(epoch int, metrics EpochMetrics) (Signal, error) {
	value, ok := metrics[h.Metric]
	if !ok {
		return Continue, errors.Errorf("plateau metric %q missing from epoch metrics", h.Metric)
	}
	current := h.Optimizer.GetLR()
	next := h.Scheduler.Step(value, current)
	if next != current {
		log.WithFields(log.Fields{
			"epoch":  epoch,
			"metric": h.Metric,
			"old_lr": current,
			"new_lr": next,
		}).Info("reducing learning rate on plateau")
		h.Optimizer.SetLR(next)
	}
	return Continue, nil
}

// LogHook emits one structured log line per epoch.
type LogHook struct{}

func (LogHook) OnEpochEnd(epoch int, metrics EpochMetrics) (Signal, error) {
	log.WithFields(log.Fields{
		"epoch":        epoch,
		"loss":         metrics["loss"],
		"main_loss":    metrics["main_output_loss"],
		"main_acc":     metrics["main_output_acc"],
		"val_loss":     metrics["val_loss"],
		"val_main_acc": metrics["val_main_output_acc"],
	}).Info("epoch complete")
	return Continue, nil
}
