package toymc

import (
	"fmt"
	"strconv"
	"strings"
)

// ResonanceFlag is a flag.Value taking "mass:width" in GeV.
type ResonanceFlag struct {
	Resonance
	beenSet bool
}

func (f *ResonanceFlag) Set(valueStr string) error {
	massStr, widthStr, ok := strings.Cut(valueStr, ":")
	if !ok {
		return fmt.Errorf("resonance %q: want mass:width", valueStr)
	}
	mass, err := strconv.ParseFloat(massStr, 64)
	if err != nil {
		return err
	}
	width, err := strconv.ParseFloat(widthStr, 64)
	if err != nil {
		return err
	}

	r := Resonance{Mass: mass, Width: width}
	if err := r.validate(); err != nil {
		return err
	}
	f.Resonance = r
	f.beenSet = true
	return nil
}

func (f *ResonanceFlag) String() string {
	return fmt.Sprintf("%g:%g", f.Mass, f.Width)
}

// IsSet reports whether the flag appeared on the command line.
func (f *ResonanceFlag) IsSet() bool { return f.beenSet }

// Apply overrides r with the flag value if it was set.
func (f *ResonanceFlag) Apply(r *Resonance) {
	if f.beenSet {
		*r = f.Resonance
	}
}
