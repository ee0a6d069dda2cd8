package toymc

import (
	"math"
	"strconv"

	"gonum.org/v1/plot"
)

// PreciseTicks places major ticks on round multiples of the axis range and
// labels them with just enough digits, which suits narrow pull and mass
// distributions better than plot.DefaultTicks.
type PreciseTicks struct {
	NSuggestedTicks int
}

// Ticks returns labelled major ticks followed by unlabelled minor ticks. An
// empty, reversed or non-finite range has none.
func (t PreciseTicks) Ticks(min, max float64) []plot.Tick {
	n := t.NSuggestedTicks
	if n < 2 {
		n = 4
	}
	span := max - min
	if !(span > 0) || math.IsInf(span, 0) {
		return nil
	}

	mult, unit := majorStep(span, n)
	major := float64(mult) * unit
	vals, end := multiples(min, max, major)
	prec := int(math.Ceil(math.Log10(math.Max(math.Abs(end), major))) - math.Floor(math.Log10(major)))

	ticks := make([]plot.Tick, 0, 2*len(vals))
	for _, v := range vals {
		v = round(v, prec)
		ticks = append(ticks, plot.Tick{Value: v, Label: strconv.FormatFloat(v, 'g', -1, 64)})
	}

	minor := major / float64(minorDivisions(mult))
	minors, _ := multiples(min, max, minor)
	for _, v := range minors {
		if !hasTick(ticks, v, minor) {
			ticks = append(ticks, plot.Tick{Value: v})
		}
	}
	return ticks
}

// majorStep picks the major spacing mult*unit, with unit a power of ten small
// enough that span holds at least n-1 units.
func majorStep(span float64, n int) (mult int, unit float64) {
	unit = math.Pow10(int(math.Floor(math.Log10(span))))
	for span/unit < float64(n-1) {
		unit /= 10
	}
	switch mult = int(span / unit / float64(n-1)); mult {
	case 0:
		mult = 1
	case 7:
		mult = 6
	case 9:
		mult = 8
	}
	return mult, unit
}

func minorDivisions(mult int) int {
	switch mult {
	case 3, 6:
		return 3
	case 5:
		return 5
	}
	return 2
}

// multiples lists the multiples of step inside [min, max] and returns the
// first one above max.
func multiples(min, max, step float64) ([]float64, float64) {
	var vals []float64
	v := math.Floor(min/step) * step
	for ; v <= max; v += step {
		if v >= min {
			vals = append(vals, v)
		}
	}
	return vals, v
}

func hasTick(ticks []plot.Tick, v, delta float64) bool {
	for _, t := range ticks {
		if math.Abs(t.Value-v) < 1e-6*delta {
			return true
		}
	}
	return false
}

// round rounds x to prec decimal digits, halves away from zero. It never
// returns negative zero.
func round(x float64, prec int) float64 {
	switch {
	case x == 0:
		return 0
	case prec >= 0 && x == math.Trunc(x):
		return x
	}
	pow := math.Pow10(prec)
	r := math.Round(x * pow)
	switch {
	case math.IsInf(r, 0):
		return x
	case r == 0:
		return 0
	}
	return r / pow
}
