package odometry

import (
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthodom/pointcloud"
	"go.viam.com/depthodom/posegraph"
)

// Config is the static configuration of a Pipeline.
type Config struct {
	// FrameIDMap names the fixed world frame poses are expressed in.
	FrameIDMap string `json:"frame_id_map"`
	// FrameIDSensor names the sensor frame when a Frame carries none.
	FrameIDSensor string `json:"frame_id_sensor"`

	VoxelRadius float64 `json:"voxel_radius"`
	MinDepth    float64 `json:"min_depth"`
	MaxDepth    float64 `json:"max_depth"`

	ICP       pointcloud.ICPConfig `json:"icp"`
	Gate      QualityGate          `json:"gate"`
	Keyframes KeyframeConfig       `json:"keyframes"`
}

// KeyframeConfig controls the pose graph built from accepted frames.
type KeyframeConfig struct {
	Enabled bool `json:"enabled"`
	// A frame becomes a keyframe once it moved this far from the previous keyframe. Zero makes
	// every accepted frame a keyframe.
	Translation    float64              `json:"translation"`
	RotationDeg    float64              `json:"rotation_deg"`
	PriorSigmas    posegraph.Sigmas     `json:"prior_sigmas"`
	OdometrySigmas posegraph.Sigmas     `json:"odometry_sigmas"`
	ISAM           posegraph.ISAMParams `json:"isam"`
}

// DefaultConfig returns the configuration used for keys an attribute map leaves out.
func DefaultConfig() Config {
	return Config{
		FrameIDMap:    "map",
		FrameIDSensor: "camera",
		VoxelRadius:   0.1,
		MinDepth:      0.1,
		MaxDepth:      7.0,
		ICP:           pointcloud.DefaultICPConfig(),
		Gate:          DefaultQualityGate(),
		Keyframes: KeyframeConfig{
			PriorSigmas:    posegraph.Sigmas{1e-3, 1e-3, 1e-3, 1e-3, 1e-3, 1e-3},
			OdometrySigmas: posegraph.Sigmas{0.05, 0.05, 0.05, 0.1, 0.1, 0.1},
			ISAM:           posegraph.DefaultISAMParams(),
		},
	}
}

// NewConfigFromAttributes decodes an attribute map over the defaults. Keys use the json names of
// the fields and values may be strings, as parameter servers often deliver them.
func NewConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "decoding odometry config")
	}
	return &cfg, nil
}

// LoadConfig reads a JSON object from path, decodes it over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading odometry config")
	}
	var attributes map[string]interface{}
	if err := json.Unmarshal(data, &attributes); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	cfg, err := NewConfigFromAttributes(attributes)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var err error
	if cfg.FrameIDMap == "" {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "frame_id_map"))
	}
	if cfg.FrameIDSensor == "" {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "frame_id_sensor"))
	}
	positive := func(name string, v float64) {
		if !(v > 0) {
			err = multierr.Append(err, utils.NewConfigValidationError(path, errors.Errorf("%s must be positive, got %v", name, v)))
		}
	}
	positive("voxel_radius", cfg.VoxelRadius)
	positive("max_depth", cfg.MaxDepth)
	if cfg.MinDepth < 0 || cfg.MinDepth >= cfg.MaxDepth {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.Errorf("depth range [%v, %v] is empty", cfg.MinDepth, cfg.MaxDepth)))
	}

	positive("icp.max_correspondence_distance", cfg.ICP.MaxCorrespondenceDistance)
	positive("icp.normal_radius", cfg.ICP.NormalRadius)
	positive("icp.tukey_k", cfg.ICP.TukeyK)
	if cfg.ICP.NormalMaxNN < 3 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.Errorf("icp.normal_max_nn must be at least 3, got %d", cfg.ICP.NormalMaxNN)))
	}
	if cfg.ICP.MaxIterations <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.Errorf("icp.max_iterations must be positive, got %d", cfg.ICP.MaxIterations)))
	}
	if cfg.ICP.RelativeFitness < 0 || cfg.ICP.RelativeRMSE < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("icp tolerances cannot be negative")))
	}

	positive("gate.max_rotation_deg", cfg.Gate.MaxRotationDeg)
	positive("gate.max_translation", cfg.Gate.MaxTranslation)

	if cfg.Keyframes.Enabled {
		if cfg.Keyframes.Translation < 0 || cfg.Keyframes.RotationDeg < 0 {
			err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("keyframe thresholds cannot be negative")))
		}
		if _, sErr := posegraph.NewDiagonalNoiseModel(cfg.Keyframes.PriorSigmas); sErr != nil {
			err = multierr.Append(err, utils.NewConfigValidationError(path, errors.Wrap(sErr, "keyframes.prior_sigmas")))
		}
		if _, sErr := posegraph.NewDiagonalNoiseModel(cfg.Keyframes.OdometrySigmas); sErr != nil {
			err = multierr.Append(err, utils.NewConfigValidationError(path, errors.Wrap(sErr, "keyframes.odometry_sigmas")))
		}
	}
	return err
}
