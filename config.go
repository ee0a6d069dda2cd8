package kinfit

import "go.uber.org/zap"

// Config holds the fit limits. The zero value is not usable; start from
// DefaultConfig and override.
type Config struct {
	// MaxIterations bounds the number of linearisation steps.
	MaxIterations int `yaml:"max_iterations"`
	// MaxDeltaS is the largest change of the minimum function between two
	// iterations accepted as converged.
	MaxDeltaS float64 `yaml:"max_delta_s"`
	// MaxConstraintViolation is the largest |f| accepted as converged.
	MaxConstraintViolation float64 `yaml:"max_constraint_violation"`
	// MaxStepHalvings bounds how often a step that worsens both S and the
	// constraints, or leaves the finite domain, is shortened. The last
	// shortened step is taken regardless.
	MaxStepHalvings int `yaml:"max_step_halvings"`
	// MaxCondition is the largest condition number of the linear systems
	// before they are treated as singular.
	MaxCondition float64 `yaml:"max_condition"`
	// Verbosity 1 logs each fit's outcome, 2 every iteration.
	Verbosity int `yaml:"verbosity"`

	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns the limits used by most decay finders.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          50,
		MaxDeltaS:              5e-5,
		MaxConstraintViolation: 1e-4,
		MaxStepHalvings:        4,
		MaxCondition:           1e14,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxIterations <= 0:
		return invalidf("config", "max iterations %d must be positive", c.MaxIterations)
	case !(c.MaxDeltaS > 0):
		return invalidf("config", "max delta S %v must be positive", c.MaxDeltaS)
	case !(c.MaxConstraintViolation > 0):
		return invalidf("config", "max constraint violation %v must be positive", c.MaxConstraintViolation)
	case c.MaxStepHalvings < 0:
		return invalidf("config", "max step halvings %d must not be negative", c.MaxStepHalvings)
	case !(c.MaxCondition > 1):
		return invalidf("config", "max condition %v must exceed 1", c.MaxCondition)
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
