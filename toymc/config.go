package toymc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/decibelcooper/kinfit"
)

// Resonance is a pole mass and full width in GeV.
type Resonance struct {
	Mass  float64 `yaml:"mass"`
	Width float64 `yaml:"width"`
}

func (r Resonance) validate() error {
	if !(r.Mass > 0) || !(r.Width > 0) {
		return fmt.Errorf("resonance %g:%g: mass and width must be positive", r.Mass, r.Width)
	}
	return nil
}

// RunConfig is the YAML run file shared by the toy drivers.
type RunConfig struct {
	Experiments int    `yaml:"experiments"`
	Seed        uint64 `yaml:"seed"`
	Workers     int    `yaml:"workers"`

	Fit kinfit.Config `yaml:"fit"`

	Top Resonance `yaml:"top"`
	W   Resonance `yaml:"w"`
	Z   Resonance `yaml:"z"`

	// MassConstraint names the kinfit.MassKind of the resonance
	// constraints.
	MassConstraint string `yaml:"mass_constraint"`
	// ZPtWidth is the spread of each transverse component of the Z
	// momentum, used both to generate and to constrain it.
	ZPtWidth float64 `yaml:"z_pt_width"`
}

// DefaultRunConfig returns the PDG resonances and the fit limits of the
// single-top toy.
func DefaultRunConfig() RunConfig {
	fit := kinfit.DefaultConfig()
	fit.MaxIterations = 5000
	return RunConfig{
		Experiments:    10000,
		Seed:           1,
		Fit:            fit,
		Top:            Resonance{Mass: 175, Width: 2},
		W:              Resonance{Mass: 80.4, Width: 2.14},
		Z:              Resonance{Mass: 91.1876, Width: 2.4952},
		MassConstraint: kinfit.MassBreitWignerInverse.String(),
		ZPtWidth:       8.1,
	}
}

// LoadRunConfig reads a run file on top of DefaultRunConfig. Unknown keys
// are an error.
func LoadRunConfig(path string) (RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, err
	}
	cfg, err := DecodeRunConfig(bytes.NewReader(raw))
	if err != nil {
		return RunConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DecodeRunConfig is LoadRunConfig for an already opened stream.
func DecodeRunConfig(r io.Reader) (RunConfig, error) {
	cfg := DefaultRunConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return RunConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate checks everything but the fit limits, which the fitter checks
// itself.
func (c RunConfig) Validate() error {
	if c.Experiments < 0 {
		return fmt.Errorf("experiments %d must not be negative", c.Experiments)
	}
	for _, r := range []struct {
		name string
		res  Resonance
	}{{"top", c.Top}, {"w", c.W}, {"z", c.Z}} {
		if err := r.res.validate(); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}
	if _, err := ParseMassKind(c.MassConstraint); err != nil {
		return err
	}
	if !(c.ZPtWidth > 0) {
		return fmt.Errorf("z_pt_width %g must be positive", c.ZPtWidth)
	}
	return nil
}

// ParseMassKind maps a MassKind name back to its value.
func ParseMassKind(s string) (kinfit.MassKind, error) {
	for k := kinfit.MassExact; k <= kinfit.MassBreitWignerInverse; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown mass constraint %q", s)
}
