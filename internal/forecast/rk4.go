package forecast

// velocityFunc returns the planar velocity (m/h) at elapsed hours t and
// position (x, y) in meters.
type velocityFunc func(t, x, y float64) (u, v float64, err error)

type rk4Sample struct {
	T, X, Y float64
}

// rk4 integrates dx/dt = u, dy/dt = v from (0, x0, y0) for steps of h hours
// using the classical fourth-order Runge-Kutta scheme. With full set every
// step is returned, otherwise only the final one.
func rk4(f velocityFunc, x0, y0, h float64, steps int, full bool) ([]rk4Sample, error) {
	t, x, y := 0.0, x0, y0
	var out []rk4Sample
	if full {
		out = make([]rk4Sample, 0, steps)
	}
	for n := 0; n < steps; n++ {
		k1u, k1v, err := f(t, x, y)
		if err != nil {
			return nil, err
		}
		k2u, k2v, err := f(t+h/2, x+h*k1u/2, y+h*k1v/2)
		if err != nil {
			return nil, err
		}
		k3u, k3v, err := f(t+h/2, x+h*k2u/2, y+h*k2v/2)
		if err != nil {
			return nil, err
		}
		k4u, k4v, err := f(t+h, x+h*k3u, y+h*k3v)
		if err != nil {
			return nil, err
		}

		x += h / 6 * (k1u + 2*k2u + 2*k3u + k4u)
		y += h / 6 * (k1v + 2*k2v + 2*k3v + k4v)
		t += h
		if full {
			out = append(out, rk4Sample{T: t, X: x, Y: y})
		}
	}
	if !full {
		out = []rk4Sample{{T: t, X: x, Y: y}}
	}
	return out, nil
}
