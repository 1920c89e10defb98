package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	test.That(t, Default().Validate("config"), test.ShouldBeNil)
	test.That(t, OrDefault(nil), test.ShouldResemble, Default())

	cfg := &Config{PLYFormat: PLYAscii}
	test.That(t, OrDefault(cfg), test.ShouldEqual, cfg)
}

func TestResolve(t *testing.T) {
	cfg, err := Resolve(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, Default())

	valid := Default()
	cfg, err = Resolve(valid)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldEqual, valid)

	// A partially filled config is not completed with defaults.
	cfg, err = Resolve(&Config{Tolerance: Default().Tolerance})
	test.That(t, cfg, test.ShouldBeNil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "float_precision")
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"negative tolerance", func(c *Config) { c.Tolerance.Absolute = -1 }, "non-negative"},
		{"zero rotation tolerance", func(c *Config) { c.Tolerance.Rotation = 0 }, "rotation"},
		{"zero normal tolerance", func(c *Config) { c.Tolerance.Normal = 0 }, "normal"},
		{"zero precision", func(c *Config) { c.FloatPrecision = 0 }, "float_precision"},
		{"huge precision", func(c *Config) { c.FloatPrecision = 40 }, "float_precision"},
		{"bad ply format", func(c *Config) { c.PLYFormat = "binary_middle_endian" }, "ply_format"},
		{"bad ply scalar", func(c *Config) { c.PLYScalar = "half" }, "ply_scalar"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate("config")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errSub)
		})
	}
}

func TestFromReader(t *testing.T) {
	t.Setenv("RECONIO_PLY_FORMAT", "binary_big_endian")
	cfg, err := FromReader(strings.NewReader(`{
		"tolerance": {"rotation": 0.01, "normal": 0.02, "absolute": 0.001, "relative": 0},
		"float_precision": 9,
		"ply_format": "${RECONIO_PLY_FORMAT}",
		"ply_scalar": "double"
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Tolerance, test.ShouldResemble, Tolerance{Rotation: 0.01, Normal: 0.02, Absolute: 0.001})
	test.That(t, cfg.FloatPrecision, test.ShouldEqual, 9)
	test.That(t, cfg.PLYFormat, test.ShouldEqual, PLYBinaryBigEndian)
	test.That(t, cfg.PLYScalar, test.ShouldEqual, "double")
	test.That(t, cfg.LogLevel, test.ShouldEqual, "info")

	_, err = FromReader(strings.NewReader(`{"ply_format": "xml"}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader(strings.NewReader(`{"unknown_field": 1}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "decode")
}

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codec.json")
	test.That(t, os.WriteFile(path, []byte(`{"log_level": "debug"}`), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.LogLevel, test.ShouldEqual, "debug")
	test.That(t, cfg.PLYFormat, test.ShouldEqual, PLYAscii)
	test.That(t, cfg.NewLogger("codec"), test.ShouldNotBeNil)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
