package baseline

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"driftwatch/internal/features"
)

func trainedModel(t *testing.T) *Model {
	t.Helper()
	model, err := Train([]features.Vector{
		vectorWith(map[int]float64{0: 3, 9: 8}),
		vectorWith(map[int]float64{0: 3, 9: 8}),
	}, "api-ci")
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	return model
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline-model.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Current(); err == nil {
		t.Fatal("expected ErrNoModel before training")
	}

	model := trainedModel(t)
	if err := mgr.Replace(model); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// A fresh manager loads the persisted model.
	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	current, err := reloaded.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.PipelineName != "api-ci" || current.BaselineRunCount != 2 {
		t.Errorf("reloaded model differs: %+v", current)
	}

	// Re-persisting the loaded model is byte-for-byte stable.
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reloaded.Replace(current); err != nil {
		t.Fatalf("re-replace: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("persisted model is not byte-stable across a load/save round trip")
	}
}

func TestManagerRejectsCorruptModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline-model.json")
	if err := os.WriteFile(path, []byte(`{"version":"1.0","features":{}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("expected rejection of model with missing features")
	}
}

func TestReplaceKeepsOldModelOnInvalidNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline-model.json")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Replace(trainedModel(t)); err != nil {
		t.Fatal(err)
	}

	bad := &Model{Version: "0.1"}
	if err := mgr.Replace(bad); err == nil {
		t.Fatal("expected invalid model to be rejected")
	}

	current, err := mgr.Current()
	if err != nil || current.Version != ModelVersion {
		t.Errorf("prior model should remain active, got %+v, %v", current, err)
	}
}
