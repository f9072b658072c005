package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/specklab/cytonet/model"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extended_model_0.json")

	src, err := model.New(model.DropoutConfig(1, 8, 16, 0.5, 42))
	if err != nil {
		t.Fatalf("building model failed: %v", err)
	}

	state := TrainingState{Epoch: 7, LearningRate: 0.0005}
	if err := Save(path, src, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored, cp, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cp.TrainingState.Epoch != 7 || cp.TrainingState.LearningRate != 0.0005 {
		t.Errorf("training state = %+v, want epoch 7 lr 0.0005", cp.TrainingState)
	}
	if cp.Architecture.Path2Blocks != 3 {
		t.Errorf("architecture path2 blocks = %d, want 3", cp.Architecture.Path2Blocks)
	}

	sp := restored.Parameters()
	dp := src.Parameters()
	if len(sp) != len(dp) {
		t.Fatalf("restored model has %d parameters, want %d", len(sp), len(dp))
	}
	for i := range sp {
		sd := sp[i].Float32Data()
		dd := dp[i].Float32Data()
		for j := range sd {
			if sd[j] != dd[j] {
				t.Fatalf("parameter %d differs at element %d: %f vs %f", i, j, sd[j], dd[j])
			}
		}
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extended_model_0.json")

	m, err := model.New(model.PlainConfig(1, 8, 1))
	if err != nil {
		t.Fatalf("building model failed: %v", err)
	}

	if err := Save(path, m, TrainingState{Epoch: 1}); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := Save(path, m, TrainingState{Epoch: 2}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	_, cp, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cp.TrainingState.Epoch != 2 {
		t.Errorf("epoch = %d, want the last written value 2", cp.TrainingState.Epoch)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error loading a missing checkpoint")
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing fixture failed: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error loading a corrupt checkpoint")
	}
}
