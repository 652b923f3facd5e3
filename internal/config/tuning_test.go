package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetMaxCosineDistance(); got != 0.4 {
		t.Errorf("GetMaxCosineDistance() = %f, want 0.4", got)
	}
	if got := cfg.GetNNBudget(); got != 0 {
		t.Errorf("GetNNBudget() = %d, want 0", got)
	}
	if got := cfg.GetMaxAge(); got != 60 {
		t.Errorf("GetMaxAge() = %d, want 60", got)
	}
	if got := cfg.GetHitsToConfirm(); got != 3 {
		t.Errorf("GetHitsToConfirm() = %d, want 3", got)
	}
	if got := cfg.GetSuppressionOrder(); got != SuppressAfterClassFilter {
		t.Errorf("GetSuppressionOrder() = %q, want %q", got, SuppressAfterClassFilter)
	}
	if got := cfg.GetAssignmentSolver(); got != SolverJonkerVolgenant {
		t.Errorf("GetAssignmentSolver() = %q, want %q", got, SolverJonkerVolgenant)
	}
	if got := cfg.GetAllowedClasses(); len(got) != 1 || got[0] != "person" {
		t.Errorf("GetAllowedClasses() = %v, want [person]", got)
	}
	if cfg.GetMotionMinPx() != 1 || cfg.GetMotionMaxPx() != 10 {
		t.Errorf("motion band = [%f, %f], want [1, 10]", cfg.GetMotionMinPx(), cfg.GetMotionMaxPx())
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults file failed validation: %v", err)
	}
	// The defaults file and the built-in fallbacks must agree.
	empty := EmptyTuningConfig()
	if cfg.JSON() != empty.JSON() {
		t.Errorf("defaults file drifted from built-in defaults:\nfile:     %s\nbuilt-in: %s", cfg.JSON(), empty.JSON())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "max_cosine_distance": 0.25,
  "nn_budget": 100,
  "max_age": 30,
  "allowed_classes": ["person", "bicycle"],
  "suppression_order": "before_class_filter"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetMaxCosineDistance() != 0.25 {
		t.Errorf("GetMaxCosineDistance() = %f, want 0.25", cfg.GetMaxCosineDistance())
	}
	if cfg.GetNNBudget() != 100 {
		t.Errorf("GetNNBudget() = %d, want 100", cfg.GetNNBudget())
	}
	if cfg.GetMaxAge() != 30 {
		t.Errorf("GetMaxAge() = %d, want 30", cfg.GetMaxAge())
	}
	if got := cfg.GetAllowedClasses(); len(got) != 2 || got[1] != "bicycle" {
		t.Errorf("GetAllowedClasses() = %v", got)
	}
	if cfg.GetSuppressionOrder() != SuppressBeforeClassFilter {
		t.Errorf("GetSuppressionOrder() = %q", cfg.GetSuppressionOrder())
	}
	// Omitted fields fall back to defaults.
	if cfg.GetHitsToConfirm() != 3 {
		t.Errorf("GetHitsToConfirm() = %d, want default 3", cfg.GetHitsToConfirm())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	_, err := LoadTuningConfig("/tmp/config.yaml")
	if err == nil || !strings.Contains(err.Error(), ".json extension") {
		t.Errorf("expected extension error, got %v", err)
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "max_age": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{name: "empty config is valid", cfg: &TuningConfig{}, wantErr: false},
		{name: "cosine distance too high", cfg: &TuningConfig{MaxCosineDistance: ptrFloat64(2.5)}, wantErr: true},
		{name: "negative budget", cfg: &TuningConfig{NNBudget: ptrInt(-1)}, wantErr: true},
		{name: "iou distance out of range", cfg: &TuningConfig{MaxIoUDistance: ptrFloat64(1.1)}, wantErr: true},
		{name: "unknown solver", cfg: &TuningConfig{AssignmentSolver: ptrString("greedy")}, wantErr: true},
		{name: "kuhn munkres solver", cfg: &TuningConfig{AssignmentSolver: ptrString(SolverKuhnMunkres)}, wantErr: false},
		{name: "zero hits to confirm", cfg: &TuningConfig{HitsToConfirm: ptrInt(0)}, wantErr: true},
		{name: "unknown suppression order", cfg: &TuningConfig{SuppressionOrder: ptrString("never")}, wantErr: true},
		{name: "min score above one", cfg: &TuningConfig{MinScore: ptrFloat64(1.5)}, wantErr: true},
		{name: "inverted motion band", cfg: &TuningConfig{MotionMinPx: ptrFloat64(20), MotionMaxPx: ptrFloat64(10)}, wantErr: true},
		{name: "history too shallow", cfg: &TuningConfig{CentroidHistoryDepth: ptrInt(2)}, wantErr: true},
		{name: "negative visible area", cfg: &TuningConfig{MaxVisibleArea: ptrFloat64(-1)}, wantErr: true},
		{name: "zero position weight", cfg: &TuningConfig{StdWeightPosition: ptrFloat64(0)}, wantErr: true},
		{name: "gating only position", cfg: &TuningConfig{GatingOnlyPosition: ptrBool(true)}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSONResolvesDefaults(t *testing.T) {
	cfg := &TuningConfig{MaxAge: ptrInt(5)}

	var decoded TuningConfig
	if err := json.Unmarshal([]byte(cfg.JSON()), &decoded); err != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", err)
	}
	if decoded.GetMaxAge() != 5 {
		t.Errorf("max_age = %d, want 5", decoded.GetMaxAge())
	}
	if decoded.MaxCosineDistance == nil || *decoded.MaxCosineDistance != 0.4 {
		t.Errorf("max_cosine_distance not resolved: %v", decoded.MaxCosineDistance)
	}
}

func TestSuppressAcrossClasses(t *testing.T) {
	cfg := EmptyTuningConfig()
	if cfg.GetSuppressAcrossClasses() {
		t.Error("GetSuppressAcrossClasses() default = true, want false")
	}
	cfg.SuppressAcrossClasses = ptrBool(true)
	if !cfg.GetSuppressAcrossClasses() {
		t.Error("GetSuppressAcrossClasses() = false after setting true")
	}
}
