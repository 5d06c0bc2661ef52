// Package odometry turns a stream of depth frames into a running sensor pose by registering
// each frame's cloud against the previous one.
package odometry

import (
	"github.com/pkg/errors"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/pointcloud"
	"go.viam.com/depthodom/spatialmath"
)

// QualityGate decides whether a relative motion estimate is plausible enough to accumulate.
type QualityGate struct {
	MaxRotationDeg float64 `json:"max_rotation_deg"`
	MaxTranslation float64 `json:"max_translation"`
}

// DefaultQualityGate returns the 5 degree / 0.1 bounds.
func DefaultQualityGate() QualityGate {
	return QualityGate{MaxRotationDeg: 5, MaxTranslation: 0.1}
}

// Check returns the rotation magnitude in degrees (norm of the XYZ Euler angles), the
// translation magnitude and whether the motion is accepted. A motion is rejected only when both
// magnitudes reach their bounds.
func (g QualityGate) Check(relative spatialmath.Pose) (float64, float64, bool) {
	rotation := spatialmath.EulerXYZDegrees(relative).Norm()
	translation := relative.Point().Norm()
	return rotation, translation, rotation < g.MaxRotationDeg || translation < g.MaxTranslation
}

// StepResult describes what one Step did.
type StepResult struct {
	// Pose is the running pose after the step.
	Pose spatialmath.Pose
	// Relative is the transform that was right-multiplied onto the running pose: identity on
	// bootstrap and on rejection.
	Relative spatialmath.Pose
	// Candidate is the registration estimate, nil on bootstrap.
	Candidate    spatialmath.Pose
	Registration pointcloud.ICPResult
	// RegistrationErr is the *pointcloud.RegistrationError reported by the registrar, if any.
	RegistrationErr error
	RotationDeg     float64
	Translation     float64
	Bootstrap       bool
	Accepted        bool
}

// Accumulator chains frame-to-frame registrations into a running pose. It keeps exactly one
// previous cloud. An Accumulator belongs to one stream and is not safe for concurrent use.
type Accumulator struct {
	registrar Registrar
	gate      QualityGate
	logger    logging.Logger

	running      spatialmath.Pose
	lastRelative spatialmath.Pose
	previous     pointcloud.PointCloud
}

// NewAccumulator returns an Accumulator at the identity pose.
func NewAccumulator(registrar Registrar, gate QualityGate, logger logging.Logger) *Accumulator {
	return &Accumulator{
		registrar:    registrar,
		gate:         gate,
		logger:       logger,
		running:      spatialmath.NewZeroPose(),
		lastRelative: spatialmath.NewZeroPose(),
	}
}

// RunningPose returns the accumulated pose of the sensor in the world frame.
func (a *Accumulator) RunningPose() spatialmath.Pose {
	return a.running
}

// LastRelative returns the most recently accepted relative transform.
func (a *Accumulator) LastRelative() spatialmath.Pose {
	return a.lastRelative
}

// HasPrevious returns whether a cloud from an earlier step is held.
func (a *Accumulator) HasPrevious() bool {
	return a.previous != nil
}

// Step registers cloud against the previous cloud and, if the result passes the quality gate,
// right-multiplies it onto the running pose. Whatever the outcome, cloud becomes the previous
// cloud. An error means the cloud could not be used and no state changed.
func (a *Accumulator) Step(cloud pointcloud.PointCloud) (StepResult, error) {
	if cloud == nil || cloud.Size() == 0 {
		return StepResult{}, errors.New("cannot accumulate an empty cloud")
	}
	prepared, err := a.registrar.Prepare(cloud)
	if err != nil {
		return StepResult{}, errors.Wrap(err, "preparing cloud")
	}

	if a.previous == nil {
		a.previous = prepared
		a.logger.Infow("bootstrapping odometry", "points", cloud.Size())
		return StepResult{
			Pose:      a.running,
			Relative:  spatialmath.NewZeroPose(),
			Bootstrap: true,
			Accepted:  true,
		}, nil
	}

	res, regErr := a.registrar.Register(prepared, a.previous, spatialmath.NewZeroPose())
	var nonConverged *pointcloud.RegistrationError
	if regErr != nil && !errors.As(regErr, &nonConverged) {
		return StepResult{}, errors.Wrap(regErr, "registering cloud")
	}
	// the next frame registers against this one regardless of the outcome.
	a.previous = prepared

	result := StepResult{
		Pose:            a.running,
		Relative:        spatialmath.NewZeroPose(),
		Candidate:       res.Transform,
		Registration:    res,
		RegistrationErr: regErr,
	}
	if res.Transform == nil {
		return result, nil
	}
	result.RotationDeg, result.Translation, result.Accepted = a.gate.Check(res.Transform)

	if nonConverged != nil {
		a.logger.Warnw("registration did not converge",
			"error", regErr, "fitness", res.Fitness, "rmse", res.InlierRMSE, "iterations", res.Iterations)
		if !errors.Is(regErr, pointcloud.ErrNotConverged) || res.Fitness <= 0 {
			result.Accepted = false
			return result, nil
		}
	}
	if !result.Accepted {
		a.logger.Warnw("quality gate rejected registration",
			"rotation_deg", result.RotationDeg, "translation", result.Translation,
			"max_rotation_deg", a.gate.MaxRotationDeg, "max_translation", a.gate.MaxTranslation)
		return result, nil
	}

	a.running = spatialmath.Compose(a.running, res.Transform)
	a.lastRelative = res.Transform
	result.Pose = a.running
	result.Relative = res.Transform
	return result, nil
}
