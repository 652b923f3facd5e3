package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Overlap suppression ordering relative to the class allow-list.
const (
	SuppressAfterClassFilter  = "after_class_filter"
	SuppressBeforeClassFilter = "before_class_filter"
)

// Assignment solver names accepted by assignment_solver.
const (
	SolverJonkerVolgenant = "jonker_volgenant"
	SolverKuhnMunkres     = "kuhn_munkres"
)

// TuningConfig represents the root configuration for tracker tuning.
// Every field is optional; the Get* accessors supply the built-in default
// for anything the JSON omits, so partial files are safe.
type TuningConfig struct {
	// Appearance
	MaxCosineDistance *float64 `json:"max_cosine_distance,omitempty"`
	NNBudget          *int     `json:"nn_budget,omitempty"` // 0 = unbounded gallery

	// Association
	MaxIoUDistance     *float64 `json:"max_iou_distance,omitempty"`
	GatingOnlyPosition *bool    `json:"gating_only_position,omitempty"`
	AssignmentSolver   *string  `json:"assignment_solver,omitempty"`

	// Lifecycle
	MaxAge        *int `json:"max_age,omitempty"`
	HitsToConfirm *int `json:"hits_to_confirm,omitempty"`

	// Detection pre-filtering
	NMSMaxOverlap         *float64 `json:"nms_max_overlap,omitempty"`
	SuppressionOrder      *string  `json:"suppression_order,omitempty"`
	SuppressAcrossClasses *bool    `json:"suppress_across_classes,omitempty"`
	AllowedClasses        []string `json:"allowed_classes,omitempty"`
	MinScore              *float64 `json:"min_score,omitempty"`

	// Motion history
	MotionMinPx          *float64 `json:"motion_min_px,omitempty"`
	MotionMaxPx          *float64 `json:"motion_max_px,omitempty"`
	CentroidHistoryDepth *int     `json:"centroid_history_depth,omitempty"`
	MaxVisibleArea       *float64 `json:"max_visible_area,omitempty"` // 0 disables

	// Kalman noise weights
	StdWeightPosition *float64 `json:"std_weight_position,omitempty"`
	StdWeightVelocity *float64 `json:"std_weight_velocity,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/tracking/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// JSON returns the effective configuration (defaults applied) as JSON.
// Stored alongside each run so results can be reproduced.
func (c *TuningConfig) JSON() string {
	resolved := TuningConfig{
		MaxCosineDistance:     ptrFloat64(c.GetMaxCosineDistance()),
		NNBudget:              ptrInt(c.GetNNBudget()),
		MaxIoUDistance:        ptrFloat64(c.GetMaxIoUDistance()),
		GatingOnlyPosition:    ptrBool(c.GetGatingOnlyPosition()),
		AssignmentSolver:      ptrString(c.GetAssignmentSolver()),
		MaxAge:                ptrInt(c.GetMaxAge()),
		HitsToConfirm:         ptrInt(c.GetHitsToConfirm()),
		NMSMaxOverlap:         ptrFloat64(c.GetNMSMaxOverlap()),
		SuppressionOrder:      ptrString(c.GetSuppressionOrder()),
		SuppressAcrossClasses: ptrBool(c.GetSuppressAcrossClasses()),
		AllowedClasses:        c.GetAllowedClasses(),
		MinScore:              ptrFloat64(c.GetMinScore()),
		MotionMinPx:           ptrFloat64(c.GetMotionMinPx()),
		MotionMaxPx:           ptrFloat64(c.GetMotionMaxPx()),
		CentroidHistoryDepth:  ptrInt(c.GetCentroidHistoryDepth()),
		MaxVisibleArea:        ptrFloat64(c.GetMaxVisibleArea()),
		StdWeightPosition:     ptrFloat64(c.GetStdWeightPosition()),
		StdWeightVelocity:     ptrFloat64(c.GetStdWeightVelocity()),
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MaxCosineDistance != nil {
		if *c.MaxCosineDistance < 0 || *c.MaxCosineDistance > 2 {
			return fmt.Errorf("max_cosine_distance must be between 0 and 2, got %f", *c.MaxCosineDistance)
		}
	}
	if c.NNBudget != nil && *c.NNBudget < 0 {
		return fmt.Errorf("nn_budget must be non-negative, got %d", *c.NNBudget)
	}
	if c.MaxIoUDistance != nil {
		if *c.MaxIoUDistance < 0 || *c.MaxIoUDistance > 1 {
			return fmt.Errorf("max_iou_distance must be between 0 and 1, got %f", *c.MaxIoUDistance)
		}
	}
	if c.AssignmentSolver != nil {
		switch *c.AssignmentSolver {
		case SolverJonkerVolgenant, SolverKuhnMunkres:
		default:
			return fmt.Errorf("unknown assignment_solver %q", *c.AssignmentSolver)
		}
	}
	if c.MaxAge != nil && *c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative, got %d", *c.MaxAge)
	}
	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be at least 1, got %d", *c.HitsToConfirm)
	}
	if c.NMSMaxOverlap != nil && *c.NMSMaxOverlap < 0 {
		return fmt.Errorf("nms_max_overlap must be non-negative, got %f", *c.NMSMaxOverlap)
	}
	if c.SuppressionOrder != nil {
		switch *c.SuppressionOrder {
		case SuppressAfterClassFilter, SuppressBeforeClassFilter:
		default:
			return fmt.Errorf("unknown suppression_order %q", *c.SuppressionOrder)
		}
	}
	if c.MinScore != nil {
		if *c.MinScore < 0 || *c.MinScore > 1 {
			return fmt.Errorf("min_score must be between 0 and 1, got %f", *c.MinScore)
		}
	}
	if c.GetMotionMinPx() < 0 {
		return fmt.Errorf("motion_min_px must be non-negative, got %f", c.GetMotionMinPx())
	}
	if c.GetMotionMaxPx() <= c.GetMotionMinPx() {
		return fmt.Errorf("motion_max_px (%f) must exceed motion_min_px (%f)", c.GetMotionMaxPx(), c.GetMotionMinPx())
	}
	if c.CentroidHistoryDepth != nil && *c.CentroidHistoryDepth < 3 {
		// Angle derivation needs two prior centroids plus the current one.
		return fmt.Errorf("centroid_history_depth must be at least 3, got %d", *c.CentroidHistoryDepth)
	}
	if c.MaxVisibleArea != nil && *c.MaxVisibleArea < 0 {
		return fmt.Errorf("max_visible_area must be non-negative, got %f", *c.MaxVisibleArea)
	}
	if c.StdWeightPosition != nil && *c.StdWeightPosition <= 0 {
		return fmt.Errorf("std_weight_position must be positive, got %f", *c.StdWeightPosition)
	}
	if c.StdWeightVelocity != nil && *c.StdWeightVelocity <= 0 {
		return fmt.Errorf("std_weight_velocity must be positive, got %f", *c.StdWeightVelocity)
	}
	return nil
}

// GetMaxCosineDistance returns the max_cosine_distance value or the default.
func (c *TuningConfig) GetMaxCosineDistance() float64 {
	if c.MaxCosineDistance == nil {
		return 0.4
	}
	return *c.MaxCosineDistance
}

// GetNNBudget returns the nn_budget value or the default (unbounded).
func (c *TuningConfig) GetNNBudget() int {
	if c.NNBudget == nil {
		return 0
	}
	return *c.NNBudget
}

// GetMaxIoUDistance returns the max_iou_distance value or the default.
func (c *TuningConfig) GetMaxIoUDistance() float64 {
	if c.MaxIoUDistance == nil {
		return 0.7
	}
	return *c.MaxIoUDistance
}

// GetGatingOnlyPosition returns the gating_only_position value or the default.
func (c *TuningConfig) GetGatingOnlyPosition() bool {
	if c.GatingOnlyPosition == nil {
		return false
	}
	return *c.GatingOnlyPosition
}

// GetAssignmentSolver returns the assignment_solver value or the default.
func (c *TuningConfig) GetAssignmentSolver() string {
	if c.AssignmentSolver == nil || *c.AssignmentSolver == "" {
		return SolverJonkerVolgenant
	}
	return *c.AssignmentSolver
}

// GetMaxAge returns the max_age value or the default.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 60
	}
	return *c.MaxAge
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetNMSMaxOverlap returns the nms_max_overlap value or the default.
// The default of 1.0 never suppresses anything since IoU cannot exceed 1.
func (c *TuningConfig) GetNMSMaxOverlap() float64 {
	if c.NMSMaxOverlap == nil {
		return 1.0
	}
	return *c.NMSMaxOverlap
}

// GetSuppressionOrder returns the suppression_order value or the default.
func (c *TuningConfig) GetSuppressionOrder() string {
	if c.SuppressionOrder == nil || *c.SuppressionOrder == "" {
		return SuppressAfterClassFilter
	}
	return *c.SuppressionOrder
}

// GetSuppressAcrossClasses returns the suppress_across_classes value or the
// default. When true a detection suppresses overlapping detections of any
// class, not just its own, which is what makes suppression_order matter.
func (c *TuningConfig) GetSuppressAcrossClasses() bool {
	if c.SuppressAcrossClasses == nil {
		return false
	}
	return *c.SuppressAcrossClasses
}

// GetAllowedClasses returns the class allow-list or the default.
// An explicitly empty list in JSON is indistinguishable from an omitted
// one, so use ["*"] to allow every class.
func (c *TuningConfig) GetAllowedClasses() []string {
	if len(c.AllowedClasses) == 0 {
		return []string{"person"}
	}
	out := make([]string, len(c.AllowedClasses))
	copy(out, c.AllowedClasses)
	return out
}

// GetMinScore returns the min_score value or the default.
func (c *TuningConfig) GetMinScore() float64 {
	if c.MinScore == nil {
		return 0
	}
	return *c.MinScore
}

// GetMotionMinPx returns the motion_min_px value or the default.
func (c *TuningConfig) GetMotionMinPx() float64 {
	if c.MotionMinPx == nil {
		return 1
	}
	return *c.MotionMinPx
}

// GetMotionMaxPx returns the motion_max_px value or the default.
func (c *TuningConfig) GetMotionMaxPx() float64 {
	if c.MotionMaxPx == nil {
		return 10
	}
	return *c.MotionMaxPx
}

// GetCentroidHistoryDepth returns the centroid_history_depth value or the default.
func (c *TuningConfig) GetCentroidHistoryDepth() int {
	if c.CentroidHistoryDepth == nil {
		return 64
	}
	return *c.CentroidHistoryDepth
}

// GetMaxVisibleArea returns the max_visible_area value or the default.
func (c *TuningConfig) GetMaxVisibleArea() float64 {
	if c.MaxVisibleArea == nil {
		return 100000
	}
	return *c.MaxVisibleArea
}

// GetStdWeightPosition returns the std_weight_position value or the default.
func (c *TuningConfig) GetStdWeightPosition() float64 {
	if c.StdWeightPosition == nil {
		return 1.0 / 20
	}
	return *c.StdWeightPosition
}

// GetStdWeightVelocity returns the std_weight_velocity value or the default.
func (c *TuningConfig) GetStdWeightVelocity() float64 {
	if c.StdWeightVelocity == nil {
		return 1.0 / 160
	}
	return *c.StdWeightVelocity
}
