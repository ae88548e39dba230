package querysql

import (
	"errors"
	"fmt"
	"math"

	"github.com/roach88/vegaplus/internal/queryir"
)

// binEpsilon absorbs floating point error when assigning a value to a bin.
const binEpsilon = 1e-14

// BinOptions are the inputs of the bin boundary algorithm. Zero values
// select the defaults of the renderer's bin transform.
type BinOptions struct {
	Extent  [2]float64
	MaxBins float64   // default 20
	Base    float64   // default 10
	Divide  []float64 // default [5, 2]
	Step    float64   // exact step, overrides MaxBins
	MinStep float64
	Nice    bool
	Anchor  *float64
}

// Bins are the computed boundaries, published as a bin transform's signal.
type Bins struct {
	Start float64
	Stop  float64
	Step  float64
}

// Value returns the bins as the signal value the renderer publishes.
func (b Bins) Value() map[string]any {
	return map[string]any{"start": b.Start, "stop": b.Stop, "step": b.Step}
}

// ComputeBins chooses a step size and nice boundaries for the extent,
// matching the client-side bin transform so remote and local results agree.
func ComputeBins(o BinOptions) (Bins, error) {
	maxb := o.MaxBins
	if maxb <= 0 {
		maxb = 20
	}
	base := o.Base
	if base <= 0 {
		base = 10
	}
	if base == 1 {
		return Bins{}, errors.New("bin base must not be 1")
	}
	div := o.Divide
	if len(div) == 0 {
		div = []float64{5, 2}
	}
	logb := math.Log(base)

	lo, hi := o.Extent[0], o.Extent[1]
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return Bins{}, fmt.Errorf("bin extent [%v, %v] is not finite", lo, hi)
	}

	span := hi - lo
	if span == 0 {
		span = math.Abs(lo)
	}
	if span == 0 {
		span = 1
	}

	var step float64
	if o.Step > 0 {
		step = o.Step
	} else {
		level := math.Ceil(math.Log(maxb) / logb)
		step = math.Max(o.MinStep, math.Pow(base, math.Round(math.Log(span)/logb)-level))
		for math.Ceil(span/step) > maxb {
			step *= base
		}
		for _, d := range div {
			v := step / d
			if v >= o.MinStep && span/v <= maxb {
				step = v
			}
		}
	}

	v := math.Log(step)
	precision := 0.0
	if v < 0 {
		precision = math.Trunc(-v/logb) + 1
	}
	eps := math.Pow(base, -precision-1)
	if o.Nice {
		v = math.Floor(lo/step+eps) * step
		if lo < v {
			lo = v - step
		} else {
			lo = v
		}
		hi = math.Ceil(hi/step) * step
	}
	if hi == lo {
		hi = lo + step
	}

	bins := Bins{Start: lo, Stop: hi, Step: step}
	if o.Anchor != nil {
		a := *o.Anchor
		shift := a - (bins.Start + bins.Step*math.Floor((a-bins.Start)/bins.Step))
		bins.Start += shift
		bins.Stop += shift
	}
	return bins, nil
}

// ResolveBins computes the boundaries of a bin operation, reading signal
// parameters from signals. A null extent (empty input) is treated as [0, 0].
func ResolveBins(b queryir.Bin, signals map[string]any) (Bins, error) {
	r := resolver{signals: signals}
	var o BinOptions
	o.Nice = true

	raw, err := r.value(b.Extent)
	if err != nil {
		return Bins{}, fmt.Errorf("bin extent: %w", err)
	}
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return Bins{}, fmt.Errorf("bin extent must be a [min, max] pair, got %v", raw)
	}
	for i, e := range pair {
		if e == nil {
			continue
		}
		f, ok := toFloat(e)
		if !ok {
			return Bins{}, fmt.Errorf("bin extent[%d] is not a number: %v", i, e)
		}
		o.Extent[i] = f
	}

	numbers := []struct {
		name string
		v    queryir.Value
		dst  *float64
	}{
		{"maxbins", b.MaxBins, &o.MaxBins},
		{"base", b.Base, &o.Base},
		{"step", b.Step, &o.Step},
		{"minstep", b.MinStep, &o.MinStep},
	}
	for _, n := range numbers {
		if n.v.IsZero() {
			continue
		}
		f, err := r.number(n.v)
		if err != nil {
			return Bins{}, fmt.Errorf("bin %s: %w", n.name, err)
		}
		*n.dst = f
	}

	if !b.Anchor.IsZero() {
		a, err := r.number(b.Anchor)
		if err != nil {
			return Bins{}, fmt.Errorf("bin anchor: %w", err)
		}
		o.Anchor = &a
	}
	if !b.Nice.IsZero() {
		v, err := r.value(b.Nice)
		if err != nil {
			return Bins{}, fmt.Errorf("bin nice: %w", err)
		}
		o.Nice = truthy(v)
	}
	if !b.Divide.IsZero() {
		v, err := r.value(b.Divide)
		if err != nil {
			return Bins{}, fmt.Errorf("bin divide: %w", err)
		}
		list, ok := v.([]any)
		if !ok {
			return Bins{}, fmt.Errorf("bin divide must be a list of numbers, got %v", v)
		}
		for _, item := range list {
			f, ok := toFloat(item)
			if !ok || f <= 0 {
				return Bins{}, fmt.Errorf("bin divide entry %v is not a positive number", item)
			}
			o.Divide = append(o.Divide, f)
		}
	}
	return ComputeBins(o)
}

// truthy follows the client's boolean coercion of signal values.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	default:
		if f, ok := toFloat(v); ok {
			return f != 0 && !math.IsNaN(f)
		}
		return true
	}
}
