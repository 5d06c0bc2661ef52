// Package posegraph stores pose graph constraints and solves them, incrementally for online use
// and in batch for offline refinement.
//
// Poses are perturbed on the right, p ⊕ ξ = p·(Exp(ω), v), and every error, sigma and
// covariance is expressed in that tangent space with the rotation components first.
package posegraph

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/spatialmath"
)

// PoseGraph buffers new factors and initial estimates until PerformOptimization hands them to
// its incremental solver. It has a single writer.
type PoseGraph struct {
	logger  logging.Logger
	isam    *ISAM
	pending FactorGraph
	initial Values
	current Values
}

// NewPoseGraph returns an empty graph backed by an incremental solver with the given parameters.
func NewPoseGraph(params ISAMParams, logger logging.Logger) *PoseGraph {
	return &PoseGraph{
		logger:  logger,
		isam:    NewISAM(params, logger.Sublogger("isam")),
		initial: Values{},
		current: Values{},
	}
}

// AddPriorFactor appends a prior anchoring key at pose.
func (pg *PoseGraph) AddPriorFactor(key int, pose spatialmath.Pose, sigmas Sigmas) error {
	noise, err := NewDiagonalNoiseModel(sigmas)
	if err != nil {
		return errors.Wrapf(err, "prior on key %d", key)
	}
	pg.pending = append(pg.pending, NewPriorFactor(key, pose, noise))
	return nil
}

// AddOdometryFactor appends a between factor holding the motion from poseA to poseB, that is
// poseA⁻¹·poseB.
func (pg *PoseGraph) AddOdometryFactor(keyA int, poseA spatialmath.Pose, keyB int, poseB spatialmath.Pose, sigmas Sigmas) error {
	if keyA == keyB {
		return errors.Errorf("between factor needs two different keys, got %d twice", keyA)
	}
	noise, err := NewDiagonalNoiseModel(sigmas)
	if err != nil {
		return errors.Wrapf(err, "between %d and %d", keyA, keyB)
	}
	pg.pending = append(pg.pending, NewBetweenFactor(keyA, keyB, spatialmath.PoseBetween(poseA, poseB), noise))
	return nil
}

// AddInitEstimate sets the initial guess of key, replacing any pending guess. For a key that was
// already optimized the guess overwrites the solver's estimate and the key is solved again.
func (pg *PoseGraph) AddInitEstimate(key int, pose spatialmath.Pose) {
	pg.initial[key] = pose
}

// ClearPending drops the buffered factors and initial estimates.
func (pg *PoseGraph) ClearPending() {
	pg.pending = nil
	pg.initial = Values{}
}

// FactorGraph returns a copy of the buffered factors.
func (pg *PoseGraph) FactorGraph() FactorGraph {
	return pg.pending.Clone()
}

// InitialEstimate returns a copy of the buffered initial estimates.
func (pg *PoseGraph) InitialEstimate() Values {
	return pg.initial.Clone()
}

// CurrentEstimate returns the solver estimate as of the last successful optimization.
func (pg *PoseGraph) CurrentEstimate() Values {
	return pg.current.Clone()
}

// PerformOptimization feeds the buffered factors and estimates to the incremental solver and
// clears the buffer. When the solver rejects the update the buffer is kept so the caller can
// complete it, e.g. with a missing prior.
func (pg *PoseGraph) PerformOptimization() (Values, error) {
	if err := pg.isam.Update(pg.pending, pg.initial); err != nil {
		return nil, err
	}
	pg.current = pg.isam.CalculateEstimate()
	pg.ClearPending()
	return pg.current.Clone(), nil
}

// MarginalCovariance returns the covariance of a solved key. The second return is false for keys
// the solver has not processed yet.
func (pg *PoseGraph) MarginalCovariance(key int) (*mat.SymDense, bool) {
	if !pg.current.Exists(key) {
		return nil, false
	}
	return pg.isam.MarginalCovariance(key)
}

// AllFactors returns every factor committed to the solver, e.g. to run a batch refinement.
func (pg *PoseGraph) AllFactors() FactorGraph {
	return pg.isam.Factors()
}
