package posegraph

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthodom/spatialmath"
)

// Sigmas are per-axis standard deviations in tangent order: three rotation components in
// radians followed by three translation components in length units.
type Sigmas [6]float64

// NoiseModel is a diagonal Gaussian noise model, optionally wrapped by a robust kernel.
type NoiseModel struct {
	Sigmas Sigmas
	// Kernel, when set, reweights the whitened residual norm.
	Kernel RobustKernel
}

// NewDiagonalNoiseModel validates the sigmas and returns a plain diagonal noise model.
func NewDiagonalNoiseModel(sigmas Sigmas) (NoiseModel, error) {
	for i, s := range sigmas {
		if !(s > 0) || math.IsInf(s, 0) {
			return NoiseModel{}, errors.Errorf("sigma %d must be positive and finite, got %v", i, s)
		}
	}
	return NoiseModel{Sigmas: sigmas}, nil
}

// Whiten divides each component of the error by its sigma.
func (n NoiseModel) Whiten(e spatialmath.Tangent) [6]float64 {
	var out [6]float64
	for i := range e {
		out[i] = e[i] / n.Sigmas[i]
	}
	return out
}

// IsRobust returns whether the model carries a robust kernel.
func (n NoiseModel) IsRobust() bool {
	return n.Kernel != nil
}

// Robust returns a copy of the model reweighted by kernel.
func (n NoiseModel) Robust(kernel RobustKernel) NoiseModel {
	return NoiseModel{Sigmas: n.Sigmas, Kernel: kernel}
}

// weightAndLoss returns the IRLS weight and the cost contribution of a whitened residual.
func (n NoiseModel) weightAndLoss(whitened [6]float64) (float64, float64) {
	var sq float64
	for _, v := range whitened {
		sq += v * v
	}
	if n.Kernel == nil {
		return 1, sq / 2
	}
	r := math.Sqrt(sq)
	return n.Kernel.Weight(r), n.Kernel.Loss(r)
}

// RobustKernel is an M-estimator applied to the whitened residual norm of a factor.
type RobustKernel interface {
	Name() string
	// Weight is the iteratively reweighted least squares weight ρ'(r)/r.
	Weight(r float64) float64
	// Loss is ρ(r), which behaves like r²/2 near zero.
	Loss(r float64) float64
}

// Cauchy is the Cauchy (Lorentzian) kernel with scale K.
type Cauchy struct {
	K float64
}

// DefaultCauchy is the kernel used by AddRobustKernel when none is given.
var DefaultCauchy = Cauchy{K: 0.3}

// Name returns the kernel name.
func (c Cauchy) Name() string {
	return "cauchy"
}

// Weight returns 1/(1+(r/k)²).
func (c Cauchy) Weight(r float64) float64 {
	u := r / c.K
	return 1 / (1 + u*u)
}

// Loss returns k²/2·log(1+(r/k)²).
func (c Cauchy) Loss(r float64) float64 {
	u := r / c.K
	return c.K * c.K / 2 * math.Log1p(u*u)
}

// Huber is the Huber kernel with threshold K.
type Huber struct {
	K float64
}

// DefaultHuber uses the usual 95% efficiency threshold.
var DefaultHuber = Huber{K: 1.345}

// Name returns the kernel name.
func (h Huber) Name() string {
	return "huber"
}

// Weight returns 1 inside the threshold and k/|r| outside.
func (h Huber) Weight(r float64) float64 {
	a := math.Abs(r)
	if a <= h.K {
		return 1
	}
	return h.K / a
}

// Loss is quadratic inside the threshold and linear outside.
func (h Huber) Loss(r float64) float64 {
	a := math.Abs(r)
	if a <= h.K {
		return r * r / 2
	}
	return h.K*a - h.K*h.K/2
}

// KernelFromName returns the kernel registered under name with its default scale.
func KernelFromName(name string) (RobustKernel, error) {
	switch name {
	case "", "none":
		return nil, nil
	case DefaultCauchy.Name():
		return DefaultCauchy, nil
	case DefaultHuber.Name():
		return DefaultHuber, nil
	default:
		return nil, errors.Errorf("unknown robust kernel %q", name)
	}
}
