// Package checkpoints persists classifier weights and architecture as JSON so
// a training run can be resumed or its final model reloaded.
package checkpoints

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/specklab/cytonet/model"
)

// WeightTensor is one serialized parameter or batch norm statistic.
type WeightTensor struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	Values []float32 `json:"values"`
}

// TrainingState records where in the run the checkpoint was taken.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
}

// Metadata describes the checkpoint itself.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
}

// Checkpoint is the on-disk format: the architecture needed to rebuild the
// network plus every weight and running statistic.
type Checkpoint struct {
	Architecture  model.Config   `json:"architecture"`
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

const formatVersion = "1.0"

// Save writes the model state to path, replacing any existing file.
func Save(path string, m *model.Classifier, state TrainingState) error {
	entries := m.State()
	weights := make([]WeightTensor, 0, len(entries))
	for _, e := range entries {
		weights = append(weights, WeightTensor{Name: e.Name, Shape: e.Shape, Values: e.Values})
	}

	cp := Checkpoint{
		Architecture:  m.Config(),
		Weights:       weights,
		TrainingState: state,
		Metadata: Metadata{
			CreatedAt: time.Now().UTC(),
			Version:   formatVersion,
		},
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return errors.Wrap(err, "marshaling checkpoint")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing checkpoint %s", path)
	}
	return nil
}

// Load reads a checkpoint, rebuilds the network it describes, and restores
// its weights.
func Load(path string) (*model.Classifier, *Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading checkpoint %s", path)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil, errors.Wrapf(err, "parsing checkpoint %s", path)
	}

	m, err := model.New(cp.Architecture)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rebuilding model from checkpoint")
	}

	entries := make([]model.StateEntry, 0, len(cp.Weights))
	for _, w := range cp.Weights {
		entries = append(entries, model.StateEntry{Name: w.Name, Shape: w.Shape, Values: w.Values})
	}
	if err := m.LoadState(entries); err != nil {
		return nil, nil, errors.Wrap(err, "restoring weights from checkpoint")
	}

	return m, &cp, nil
}
