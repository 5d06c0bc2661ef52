package odometry

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/pointcloud"
	"go.viam.com/depthodom/posegraph"
	"go.viam.com/depthodom/rimage"
	"go.viam.com/depthodom/rimage/transform"
	"go.viam.com/depthodom/spatialmath"
)

// ErrNoValidDepth is returned for a frame with no depth inside the configured range.
var ErrNoValidDepth = errors.New("frame has no valid depth in range")

// Frame is one time-synchronized depth image with the intrinsics it was captured with.
type Frame struct {
	Stamp time.Time
	// FrameID names the sensor frame; empty falls back to the configured frame_id_sensor.
	FrameID    string
	Depth      *rimage.DepthMap
	Intrinsics *transform.PinholeCameraIntrinsics
}

// Odometry is the pose emitted for one processed frame.
type Odometry struct {
	Seq          uint64
	Stamp        time.Time
	FrameID      string
	ChildFrameID string
	// Pose is the sensor pose in the FrameID frame.
	Pose     spatialmath.Pose
	Relative spatialmath.Pose
	Accepted bool
	// Bootstrap is set on the first frame of a stream.
	Bootstrap bool
	// Points is the size of the downsampled cloud.
	Points int
}

// Quaternion returns the orientation of the pose.
func (o *Odometry) Quaternion() quat.Number {
	return o.Pose.Quaternion()
}

// Stats summarizes registration timing.
type Stats struct {
	Registrations int
	Mean          time.Duration
	P95           time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used to time registrations and stamp frames that carry no stamp.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithRegistrar replaces the ICP registrar.
func WithRegistrar(r Registrar) Option {
	return func(p *Pipeline) {
		p.registrar = r
	}
}

// Pipeline runs the per-frame chain of projection, downsampling and accumulation for one sensor
// stream, and optionally feeds keyframes into a pose graph.
type Pipeline struct {
	mu        sync.Mutex
	cfg       Config
	logger    logging.Logger
	clock     clock.Clock
	registrar Registrar
	acc       *Accumulator

	seq        uint64
	trajectory []Odometry
	durations  []float64

	graph       *posegraph.PoseGraph
	keyframes   int
	lastKeyPose spatialmath.Pose
	estimate    posegraph.Values
}

// NewPipeline returns a Pipeline for cfg, which must already be valid.
func NewPipeline(cfg Config, logger logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		logger:   logger,
		clock:    clock.New(),
		estimate: posegraph.Values{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registrar == nil {
		p.registrar = NewICPRegistrar(cfg.ICP)
	}
	p.acc = NewAccumulator(p.registrar, cfg.Gate, logger.Sublogger("accumulator"))
	if cfg.Keyframes.Enabled {
		p.graph = posegraph.NewPoseGraph(cfg.Keyframes.ISAM, logger.Sublogger("keyframes"))
	}
	return p
}

// ProcessFrame runs one frame through the pipeline and returns the pose to publish. Frames the
// pipeline cannot use are reported as errors and leave its state untouched.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame Frame) (*Odometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cloud, err := p.frameToCloud(frame)
	if err != nil {
		p.logger.Warnw("skipping frame", "error", err)
		return nil, err
	}

	start := p.clock.Now()
	step, err := p.acc.Step(cloud)
	if err != nil {
		p.logger.Warnw("skipping frame", "error", err)
		return nil, err
	}
	if !step.Bootstrap {
		took := p.clock.Since(start)
		p.durations = append(p.durations, float64(took))
		p.logger.Debugw("registered frame",
			"duration", took, "iterations", step.Registration.Iterations, "fitness", step.Registration.Fitness)
	}

	stamp := frame.Stamp
	if stamp.IsZero() {
		stamp = p.clock.Now()
	}
	child := frame.FrameID
	if child == "" {
		child = p.cfg.FrameIDSensor
	}
	p.seq++
	odom := Odometry{
		Seq:          p.seq,
		Stamp:        stamp,
		FrameID:      p.cfg.FrameIDMap,
		ChildFrameID: child,
		Pose:         step.Pose,
		Relative:     step.Relative,
		Accepted:     step.Accepted,
		Bootstrap:    step.Bootstrap,
		Points:       cloud.Size(),
	}
	p.trajectory = append(p.trajectory, odom)

	if p.graph != nil && step.Accepted {
		p.addKeyframe(step.Pose)
	}
	return &odom, nil
}

func (p *Pipeline) frameToCloud(frame Frame) (pointcloud.PointCloud, error) {
	if frame.Intrinsics == nil {
		return nil, transform.NewNoIntrinsicsError("frame carries no intrinsics")
	}
	if frame.Depth == nil {
		return nil, rimage.ErrEmptyDepthMap
	}
	clamped := frame.Depth.ClampRange(p.cfg.MinDepth, p.cfg.MaxDepth)
	projected, err := frame.Intrinsics.DepthMapToPointCloud(clamped)
	if err != nil {
		return nil, err
	}
	if projected.Size() == 0 {
		return nil, ErrNoValidDepth
	}
	return pointcloud.VoxelDownsample(projected, p.cfg.VoxelRadius)
}

func (p *Pipeline) isKeyframe(pose spatialmath.Pose) bool {
	if p.keyframes == 0 {
		return true
	}
	kf := p.cfg.Keyframes
	if kf.Translation == 0 && kf.RotationDeg == 0 {
		return true
	}
	motion := spatialmath.PoseBetween(p.lastKeyPose, pose)
	if kf.Translation > 0 && motion.Point().Norm() >= kf.Translation {
		return true
	}
	return kf.RotationDeg > 0 && spatialmath.EulerXYZDegrees(motion).Norm() >= kf.RotationDeg
}

// addKeyframe inserts pose as the next key of the graph and updates the estimate. Solver
// failures are logged; the factors stay buffered and are retried with the next keyframe.
func (p *Pipeline) addKeyframe(pose spatialmath.Pose) {
	if !p.isKeyframe(pose) {
		return
	}
	key := p.keyframes
	kf := p.cfg.Keyframes
	if key == 0 {
		if err := p.graph.AddPriorFactor(key, pose, kf.PriorSigmas); err != nil {
			p.logger.Warnw("cannot anchor keyframe graph", "error", err)
			return
		}
		p.graph.AddInitEstimate(key, pose)
	} else {
		if err := p.graph.AddOdometryFactor(key-1, p.lastKeyPose, key, pose, kf.OdometrySigmas); err != nil {
			p.logger.Warnw("cannot link keyframe", "key", key, "error", err)
			return
		}
		guess := pose
		if prev, ok := p.estimate[key-1]; ok {
			guess = spatialmath.Compose(prev, spatialmath.PoseBetween(p.lastKeyPose, pose))
		}
		p.graph.AddInitEstimate(key, guess)
	}
	p.keyframes++
	p.lastKeyPose = pose

	estimate, err := p.graph.PerformOptimization()
	if err != nil {
		p.logger.Warnw("keyframe optimization failed", "key", key, "error", err)
		return
	}
	p.estimate = estimate
}

// Trajectory returns every emitted pose in order.
func (p *Pipeline) Trajectory() []Odometry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Odometry, len(p.trajectory))
	copy(out, p.trajectory)
	return out
}

// Estimate returns the refined keyframe poses, keyed by keyframe index. It is empty when
// keyframes are disabled.
func (p *Pipeline) Estimate() posegraph.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimate.Clone()
}

// KeyframeGraph returns the factors committed to the keyframe graph, or nil when keyframes are
// disabled.
func (p *Pipeline) KeyframeGraph() posegraph.FactorGraph {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graph == nil {
		return nil
	}
	return p.graph.AllFactors()
}

// Stats returns registration timing over every frame registered so far.
func (p *Pipeline) Stats() (Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.durations) == 0 {
		return Stats{}, nil
	}
	data := stats.Float64Data(p.durations)
	mean, err := stats.Mean(data)
	if err != nil {
		return Stats{}, errors.Wrap(err, "mean registration time")
	}
	p95, err := stats.Percentile(data, 95)
	if err != nil {
		return Stats{}, errors.Wrap(err, "95th percentile registration time")
	}
	return Stats{
		Registrations: len(p.durations),
		Mean:          time.Duration(mean),
		P95:           time.Duration(p95),
	}, nil
}
