// Package config defines the configuration value passed to every codec call.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/reconio/logging"
)

// PLYFormat is the body encoding of a PLY file.
type PLYFormat string

// The PLY body encodings.
const (
	PLYAscii              PLYFormat = "ascii"
	PLYBinaryLittleEndian PLYFormat = "binary_little_endian"
	PLYBinaryBigEndian    PLYFormat = "binary_big_endian"
)

// Valid reports whether f names a known encoding.
func (f PLYFormat) Valid() bool {
	switch f {
	case PLYAscii, PLYBinaryLittleEndian, PLYBinaryBigEndian:
		return true
	default:
		return false
	}
}

// Tolerance holds the numeric tolerances used for validation and equality.
type Tolerance struct {
	// Rotation bounds | |q|-1 | for quaternions and the orthonormality and
	// determinant error of rotation matrices.
	Rotation float64 `json:"rotation"`
	// Normal bounds | |n|-1 | for patch and vertex normals.
	Normal float64 `json:"normal"`
	// Absolute and Relative are used when comparing models.
	Absolute float64 `json:"absolute"`
	Relative float64 `json:"relative"`
}

// Config configures parsing and serialization.
type Config struct {
	Tolerance Tolerance `json:"tolerance"`
	// FloatPrecision is the number of significant digits written for text
	// floats; -1 writes the shortest exact representation.
	FloatPrecision int `json:"float_precision"`
	// PLYFormat selects the encoding of written PLY files.
	PLYFormat PLYFormat `json:"ply_format"`
	// PLYScalar is the PLY type of written positions and normals: "float" or
	// "double".
	PLYScalar string `json:"ply_scalar"`
	// LogLevel is the level of loggers built by NewLogger.
	LogLevel string `json:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Tolerance: Tolerance{
			Rotation: 1e-4,
			Normal:   1e-3,
			Absolute: 1e-5,
			Relative: 1e-6,
		},
		FloatPrecision: -1,
		PLYFormat:      PLYAscii,
		PLYScalar:      "float",
		LogLevel:       "info",
	}
}

// OrDefault returns cfg, or the default configuration if cfg is nil.
func OrDefault(cfg *Config) *Config {
	if cfg == nil {
		return Default()
	}
	return cfg
}

// Resolve returns the default configuration for a nil cfg and cfg itself
// once it passes Validate.
func Resolve(cfg *Config) (*Config, error) {
	if cfg == nil {
		return Default(), nil
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	for name, v := range map[string]float64{
		"rotation": cfg.Tolerance.Rotation,
		"normal":   cfg.Tolerance.Normal,
		"absolute": cfg.Tolerance.Absolute,
		"relative": cfg.Tolerance.Relative,
	} {
		if v < 0 {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.tolerance", path),
				errors.Errorf("%s tolerance must be non-negative, got %g", name, v))
		}
	}
	if cfg.Tolerance.Rotation == 0 {
		return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.tolerance", path), "rotation")
	}
	if cfg.Tolerance.Normal == 0 {
		return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.tolerance", path), "normal")
	}
	if cfg.FloatPrecision < -1 || cfg.FloatPrecision == 0 || cfg.FloatPrecision > 17 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("float_precision must be -1 or between 1 and 17, got %d", cfg.FloatPrecision))
	}
	if !cfg.PLYFormat.Valid() {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown ply_format %q", cfg.PLYFormat))
	}
	if cfg.PLYScalar != "float" && cfg.PLYScalar != "double" {
		return utils.NewConfigValidationError(path, errors.Errorf("ply_scalar must be float or double, got %q", cfg.PLYScalar))
	}
	if _, err := logging.LevelFromString(cfg.LogLevel); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// NewLogger returns a logger at the configured level.
func (cfg *Config) NewLogger(name string) logging.Logger {
	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		level = logging.INFO
	}
	return logging.NewLoggerAtLevel(name, level)
}
