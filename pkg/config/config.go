// Package config provides configuration loading and management for splinewarp.
// Values come from defaults, then an optional YAML file, then environment
// variables prefixed SPLINEWARP__ with __ separating sections
// (e.g. SPLINEWARP__SPLINE__KERNEL_TYPE=VolumeSpline).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides
const EnvPrefix = "SPLINEWARP__"

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many goroutines evaluate the output grid
		NumCores int `yaml:"num_cores" koanf:"num_cores"`
	} `yaml:"processing" koanf:"processing"`

	// Spline parameters used when fitting a kernel transform
	Spline struct {
		// KernelType is the kernel family name, e.g. ThinPlateSpline
		KernelType string `yaml:"kernel_type" koanf:"kernel_type"`

		// RelaxationFactor is the stiffness; 0 interpolates the landmarks exactly
		RelaxationFactor float64 `yaml:"relaxation_factor" koanf:"relaxation_factor"`

		// PoissonRatio is only used by the elastic-body kernels
		PoissonRatio float64 `yaml:"poisson_ratio" koanf:"poisson_ratio"`

		// InversionMethod is SVD or QR
		InversionMethod string `yaml:"inversion_method" koanf:"inversion_method"`

		// UseComposition warps the fixed landmarks through the initial transform
		UseComposition bool `yaml:"use_composition" koanf:"use_composition"`
	} `yaml:"spline" koanf:"spline"`

	// Output parameters
	Output struct {
		// Directory receives every produced file
		Directory string `yaml:"directory" koanf:"directory"`

		LogToConsole bool   `yaml:"log_to_console" koanf:"log_to_console"`
		LogToFile    bool   `yaml:"log_to_file" koanf:"log_to_file"`
		LogFileName  string `yaml:"log_file_name" koanf:"log_file_name"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose" koanf:"verbose"`

		// SavePreviews writes JPEG middle slices of produced images
		SavePreviews bool `yaml:"save_previews" koanf:"save_previews"`
	} `yaml:"output" koanf:"output"`

	// Apply parameters select what the application pipeline produces
	Apply struct {
		ComputeDeformationField             bool `yaml:"compute_deformation_field" koanf:"compute_deformation_field"`
		ComputeSpatialJacobian              bool `yaml:"compute_spatial_jacobian" koanf:"compute_spatial_jacobian"`
		ComputeDeterminantOfSpatialJacobian bool `yaml:"compute_determinant_of_spatial_jacobian" koanf:"compute_determinant_of_spatial_jacobian"`

		// DefaultPixelValue fills resampled pixels that map outside the input
		DefaultPixelValue float64 `yaml:"default_pixel_value" koanf:"default_pixel_value"`

		// Interpolator is FinalLinearInterpolator or FinalNearestNeighborInterpolator
		Interpolator string `yaml:"interpolator" koanf:"interpolator"`
	} `yaml:"apply" koanf:"apply"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Spline.KernelType = "ThinPlateSpline"
	cfg.Spline.RelaxationFactor = 0
	cfg.Spline.PoissonRatio = 0.3
	cfg.Spline.InversionMethod = "SVD"
	cfg.Spline.UseComposition = true

	cfg.Output.Directory = "."
	cfg.Output.LogToConsole = true
	cfg.Output.LogToFile = false
	cfg.Output.Verbose = false
	cfg.Output.SavePreviews = false

	cfg.Apply.DefaultPixelValue = 0
	cfg.Apply.Interpolator = "FinalLinearInterpolator"

	return cfg
}

// LoadConfig merges the YAML file at configPath, if it exists, and
// environment overrides onto the defaults
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if cfg.Processing.NumCores < 1 {
		cfg.Processing.NumCores = runtime.NumCPU()
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
