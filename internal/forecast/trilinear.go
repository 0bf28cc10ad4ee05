package forecast

import (
	"errors"
	"fmt"
	"sort"
)

// errOutOfExtent is returned when an interpolant is sampled outside its grid.
var errOutOfExtent = errors.New("sample outside interpolation extent")

// axisTolerance absorbs floating point drift at the grid edges (hours or meters).
const axisTolerance = 1e-6

// trilinear interpolates a regular (t, y, x) grid. Axes are strictly
// increasing; values are indexed [t][y][x].
type trilinear struct {
	t, y, x []float64
	values  [][][]float64
}

// newTrilinear builds an interpolant, reordering descending axes so lookups
// always see increasing coordinates. Axes must be strictly monotone.
func newTrilinear(t, y, x []float64, values [][][]float64) (*trilinear, error) {
	if len(values) != len(t) {
		return nil, fmt.Errorf("time axis has %d entries, values have %d", len(t), len(values))
	}
	for k := range values {
		if len(values[k]) != len(y) {
			return nil, fmt.Errorf("y axis has %d entries, values have %d", len(y), len(values[k]))
		}
		for i := range values[k] {
			if len(values[k][i]) != len(x) {
				return nil, fmt.Errorf("x axis has %d entries, values have %d", len(x), len(values[k][i]))
			}
		}
	}

	g := &trilinear{t: t, y: y, x: x, values: values}
	tDesc, err := direction(t)
	if err != nil {
		return nil, fmt.Errorf("time axis: %w", err)
	}
	yDesc, err := direction(y)
	if err != nil {
		return nil, fmt.Errorf("y axis: %w", err)
	}
	xDesc, err := direction(x)
	if err != nil {
		return nil, fmt.Errorf("x axis: %w", err)
	}
	if tDesc || yDesc || xDesc {
		g = g.reordered(tDesc, yDesc, xDesc)
	}
	return g, nil
}

// direction reports whether axis is descending, failing when it is not
// strictly monotone.
func direction(axis []float64) (descending bool, err error) {
	if len(axis) == 0 {
		return false, errors.New("empty axis")
	}
	if len(axis) == 1 {
		return false, nil
	}
	descending = axis[1] < axis[0]
	for i := 1; i < len(axis); i++ {
		if axis[i] == axis[i-1] || (axis[i] < axis[i-1]) != descending {
			return false, errors.New("axis is not strictly monotone")
		}
	}
	return descending, nil
}

func (g *trilinear) reordered(tDesc, yDesc, xDesc bool) *trilinear {
	nt, ny, nx := len(g.t), len(g.y), len(g.x)
	idx := func(i, n int, desc bool) int {
		if desc {
			return n - 1 - i
		}
		return i
	}
	out := &trilinear{t: make([]float64, nt), y: make([]float64, ny), x: make([]float64, nx), values: make([][][]float64, nt)}
	for k := 0; k < nt; k++ {
		out.t[k] = g.t[idx(k, nt, tDesc)]
	}
	for i := 0; i < ny; i++ {
		out.y[i] = g.y[idx(i, ny, yDesc)]
	}
	for j := 0; j < nx; j++ {
		out.x[j] = g.x[idx(j, nx, xDesc)]
	}
	for k := 0; k < nt; k++ {
		out.values[k] = make([][]float64, ny)
		for i := 0; i < ny; i++ {
			row := make([]float64, nx)
			for j := 0; j < nx; j++ {
				row[j] = g.values[idx(k, nt, tDesc)][idx(i, ny, yDesc)][idx(j, nx, xDesc)]
			}
			out.values[k][i] = row
		}
	}
	return out
}

// at samples the grid at (t, y, x).
func (g *trilinear) at(t, y, x float64) (float64, error) {
	k, ft, err := locate(g.t, t)
	if err != nil {
		return 0, fmt.Errorf("t=%.3f: %w", t, err)
	}
	i, fy, err := locate(g.y, y)
	if err != nil {
		return 0, fmt.Errorf("y=%.1f: %w", y, err)
	}
	j, fx, err := locate(g.x, x)
	if err != nil {
		return 0, fmt.Errorf("x=%.1f: %w", x, err)
	}
	k1, i1, j1 := upper(k, len(g.t)), upper(i, len(g.y)), upper(j, len(g.x))

	v := g.values
	c00 := lerp(v[k][i][j], v[k][i][j1], fx)
	c01 := lerp(v[k][i1][j], v[k][i1][j1], fx)
	c10 := lerp(v[k1][i][j], v[k1][i][j1], fx)
	c11 := lerp(v[k1][i1][j], v[k1][i1][j1], fx)
	c0 := lerp(c00, c01, fy)
	c1 := lerp(c10, c11, fy)
	return lerp(c0, c1, ft), nil
}

// locate returns the lower bracketing index and the fractional position of v
// within [axis[i], axis[i+1]].
func locate(axis []float64, v float64) (int, float64, error) {
	n := len(axis)
	if v < axis[0]-axisTolerance || v > axis[n-1]+axisTolerance {
		return 0, 0, errOutOfExtent
	}
	if n == 1 {
		return 0, 0, nil
	}
	i := sort.SearchFloat64s(axis, v) - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	f := (v - axis[i]) / (axis[i+1] - axis[i])
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return i, f, nil
}

func upper(i, n int) int {
	if i+1 < n {
		return i + 1
	}
	return i
}

func lerp(a, b, f float64) float64 { return a + (b-a)*f }
