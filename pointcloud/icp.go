package pointcloud

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthodom/spatialmath"
)

// MinCorrespondences is the fewest point pairs that constrain all six degrees of freedom.
const MinCorrespondences = 6

var (
	// ErrNotConverged is returned when the iteration cap is reached before the convergence
	// tolerances are met.
	ErrNotConverged = errors.New("registration did not converge")
	// ErrInsufficientCorrespondences is returned when too few point pairs fall within the
	// correspondence distance.
	ErrInsufficientCorrespondences = errors.New("not enough correspondences for registration")
	// ErrDegenerateGeometry is returned when the matched points do not constrain the motion,
	// e.g. every residual was rejected by the robust loss.
	ErrDegenerateGeometry = errors.New("correspondences do not constrain the transform")
	// ErrMissingNormals is returned when the target cloud has no surface normals, e.g. when it is
	// too sparse for EstimateNormals to fit any plane.
	ErrMissingNormals = errors.New("target cloud has no surface normals")
)

// RegistrationError reports why a registration did not produce a converged transform. The
// accompanying ICPResult still holds the best transform found.
type RegistrationError struct {
	Cause           error
	Iteration       int
	Correspondences int
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%v (iteration %d, %d correspondences)", e.Cause, e.Iteration, e.Correspondences)
}

func (e *RegistrationError) Unwrap() error {
	return e.Cause
}

// ICPConfig holds the registration parameters.
type ICPConfig struct {
	// MaxCorrespondenceDistance excludes pairs farther apart than this.
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance"`
	// NormalRadius and NormalMaxNN bound the neighbourhood used to fit surface normals.
	NormalRadius float64 `json:"normal_radius"`
	NormalMaxNN  int     `json:"normal_max_nn"`
	// TukeyK is the scale of the Tukey biweight loss applied to point-to-plane residuals.
	TukeyK          float64 `json:"tukey_k"`
	RelativeFitness float64 `json:"relative_fitness"`
	RelativeRMSE    float64 `json:"relative_rmse"`
	MaxIterations   int     `json:"max_iterations"`
}

// DefaultICPConfig returns the parameters tuned for indoor depth cameras at metric scale.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxCorrespondenceDistance: 0.5,
		NormalRadius:              0.5,
		NormalMaxNN:               30,
		TukeyK:                    0.05,
		RelativeFitness:           1e-6,
		RelativeRMSE:              1e-6,
		MaxIterations:             100,
	}
}

// ICPResult is the outcome of a registration.
type ICPResult struct {
	// Transform maps source points into the target frame.
	Transform spatialmath.Pose
	// Fitness is the fraction of source points with a correspondence.
	Fitness float64
	// InlierRMSE is the RMS point-to-point distance over the correspondences.
	InlierRMSE      float64
	Correspondences int
	Iterations      int
	Converged       bool
}

// TukeyLoss is a redescending robust loss: residuals beyond K get zero weight.
type TukeyLoss struct {
	K float64
}

// Weight returns the IRLS weight of residual r.
func (l TukeyLoss) Weight(r float64) float64 {
	if math.Abs(r) > l.K {
		return 0
	}
	u := r / l.K
	v := 1 - u*u
	return v * v
}

type correspondence struct {
	source r3.Vector // already transformed by the current estimate
	target r3.Vector
	normal r3.Vector
}

// RegisterPointToPlaneICP aligns source into the frame of target starting from guess, minimizing
// robustly weighted point-to-plane residuals n·(T·p − q). The target must carry normals (see
// EstimateNormals); target points without one never take part in a correspondence.
//
// When the returned error is a *RegistrationError, the result still holds the best-effort
// transform and Converged is false.
func RegisterPointToPlaneICP(source PointCloud, target *KDTree, guess spatialmath.Pose, cfg ICPConfig) (ICPResult, error) {
	if guess == nil {
		guess = spatialmath.NewZeroPose()
	}
	if target.Size() > 0 && !target.MetaData().HasNormals {
		hasAny := false
		for _, d := range target.data {
			if d != nil && d.HasNormal() {
				hasAny = true
				break
			}
		}
		if !hasAny {
			return ICPResult{Transform: guess}, &RegistrationError{Cause: ErrMissingNormals}
		}
	}
	loss := TukeyLoss{K: cfg.TukeyK}
	points, _ := CloudToPoints(source)

	current := guess
	corr, fitness, rmse := matchCorrespondences(points, target, current, cfg.MaxCorrespondenceDistance)
	result := func(iterations int, converged bool) ICPResult {
		return ICPResult{
			Transform:       current,
			Fitness:         fitness,
			InlierRMSE:      rmse,
			Correspondences: len(corr),
			Iterations:      iterations,
			Converged:       converged,
		}
	}

	for i := 0; i < cfg.MaxIterations; i++ {
		if len(corr) < MinCorrespondences {
			return result(i, false), &RegistrationError{Cause: ErrInsufficientCorrespondences, Iteration: i, Correspondences: len(corr)}
		}
		delta, ok := solvePointToPlane(corr, loss)
		if !ok {
			return result(i, false), &RegistrationError{Cause: ErrDegenerateGeometry, Iteration: i, Correspondences: len(corr)}
		}
		current = spatialmath.Compose(delta, current)

		prevFitness, prevRMSE := fitness, rmse
		corr, fitness, rmse = matchCorrespondences(points, target, current, cfg.MaxCorrespondenceDistance)
		if math.Abs(prevFitness-fitness) < cfg.RelativeFitness && math.Abs(prevRMSE-rmse) < cfg.RelativeRMSE {
			return result(i+1, true), nil
		}
	}
	return result(cfg.MaxIterations, false), &RegistrationError{
		Cause:           ErrNotConverged,
		Iteration:       cfg.MaxIterations,
		Correspondences: len(corr),
	}
}

// matchCorrespondences pairs each transformed source point with its nearest target point within
// maxDistance and returns the pairs with the fitness and inlier RMSE they induce.
func matchCorrespondences(
	points []r3.Vector,
	target *KDTree,
	pose spatialmath.Pose,
	maxDistance float64,
) ([]correspondence, float64, float64) {
	corr := make([]correspondence, 0, len(points))
	var sumSq float64
	for _, p := range points {
		tp := pose.Transform(p)
		nb, ok := target.NearestNeighbor(tp)
		if !ok || nb.Distance > maxDistance || nb.D == nil || !nb.D.HasNormal() {
			continue
		}
		corr = append(corr, correspondence{source: tp, target: nb.P, normal: nb.D.Normal()})
		sumSq += nb.Distance * nb.Distance
	}
	if len(corr) == 0 || len(points) == 0 {
		return corr, 0, 0
	}
	return corr, float64(len(corr)) / float64(len(points)), math.Sqrt(sumSq / float64(len(corr)))
}

// solvePointToPlane solves the weighted, linearized point-to-plane problem for the incremental
// motion (ω, t) and returns it as a pose to be applied on the left.
func solvePointToPlane(corr []correspondence, loss TukeyLoss) (spatialmath.Pose, bool) {
	ata := mat.NewSymDense(6, nil)
	atb := mat.NewVecDense(6, nil)
	var totalWeight float64
	for _, c := range corr {
		r := c.normal.Dot(c.source.Sub(c.target))
		w := loss.Weight(r)
		if w == 0 {
			continue
		}
		totalWeight += w
		cross := c.source.Cross(c.normal)
		jac := [6]float64{cross.X, cross.Y, cross.Z, c.normal.X, c.normal.Y, c.normal.Z}
		for i := 0; i < 6; i++ {
			for j := i; j < 6; j++ {
				ata.SetSym(i, j, ata.At(i, j)+w*jac[i]*jac[j])
			}
			atb.SetVec(i, atb.AtVec(i)-w*jac[i]*r)
		}
	}
	if totalWeight == 0 {
		return nil, false
	}

	var x mat.VecDense
	var chol mat.Cholesky
	if !chol.Factorize(ata) || chol.SolveVecTo(&x, atb) != nil {
		// rank deficient (e.g. a single plane): take the minimum norm solution.
		var svd mat.SVD
		if !svd.Factorize(ata, mat.SVDThin) {
			return nil, false
		}
		rank := svd.Rank(1e-12)
		if rank == 0 {
			return nil, false
		}
		svd.SolveVecTo(&x, atb, rank)
	}
	for i := 0; i < 6; i++ {
		if math.IsNaN(x.AtVec(i)) || math.IsInf(x.AtVec(i), 0) {
			return nil, false
		}
	}
	return spatialmath.NewPoseFromAxisAngle(
		r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)},
		r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)},
	), true
}
