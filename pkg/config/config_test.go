package config

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestDefaultThresholds(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.FSRS.RetentionTarget != 0.9 {
		t.Errorf("retention target = %v, want 0.9", cfg.FSRS.RetentionTarget)
	}
	if cfg.IngestGate.TCreate != 0.65 || cfg.IngestGate.TUpdate != 0.80 || cfg.IngestGate.TReinforce != 0.92 {
		t.Errorf("gate thresholds = %v/%v/%v, want 0.65/0.80/0.92",
			cfg.IngestGate.TCreate, cfg.IngestGate.TUpdate, cfg.IngestGate.TReinforce)
	}
	if cfg.Guard.EmbedTimeout != 5*time.Second {
		t.Errorf("embed timeout = %v, want 5s", cfg.Guard.EmbedTimeout)
	}
	if cfg.Guard.VectorTimeout != 500*time.Millisecond {
		t.Errorf("vector timeout = %v, want 500ms", cfg.Guard.VectorTimeout)
	}
}

func TestValidateRejectsBrokenCascade(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IngestGate.TCreate = 0.95 // above TUpdate: cascade broken
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure for non-monotone gate thresholds")
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FSRS.Weights = []float64{1, 2, 3}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure for a 3-entry weight vector")
	}
}

func TestValidateRejectsBadRetention(t *testing.T) {
	for _, target := range []float64{0, 1, 1.5, -0.2} {
		cfg := DefaultConfig()
		cfg.FSRS.RetentionTarget = target
		if err := cfg.Validate(); err == nil {
			t.Errorf("retention target %v should be rejected", target)
		}
	}
}

func TestToParametersOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FSRS.RetentionTarget = 0.85
	cfg.FSRS.Decay = 0.2

	p := cfg.FSRS.ToParameters()
	if p.RequestRetention != 0.85 {
		t.Errorf("request retention = %v, want 0.85", p.RequestRetention)
	}
	if p.W[20] != 0.2 {
		t.Errorf("decay = %v, want 0.2", p.W[20])
	}
}

func TestToPipelineConfigFusionSelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retrieval.Fusion = "rrf"

	pCfg := cfg.Retrieval.ToPipelineConfig()
	if pCfg.Fusion.Name() != "rrf" {
		t.Errorf("fusion = %q, want rrf", pCfg.Fusion.Name())
	}

	cfg.Retrieval.Fusion = "convex"
	pCfg = cfg.Retrieval.ToPipelineConfig()
	if pCfg.Fusion.Name() != "convex" {
		t.Errorf("fusion = %q, want convex", pCfg.Fusion.Name())
	}
}

func TestSnapshotSwap(t *testing.T) {
	first := DefaultConfig()
	snap := NewSnapshot(first)
	if snap.Load() != first {
		t.Fatal("snapshot should return the seeded config")
	}

	second := DefaultConfig()
	second.FSRS.RetentionTarget = 0.8
	snap.Store(second)
	if snap.Load().FSRS.RetentionTarget != 0.8 {
		t.Error("snapshot swap did not take effect")
	}
}
