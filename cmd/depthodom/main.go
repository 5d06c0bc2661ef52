// Package main runs depth odometry over a directory of depth frames and prints the trajectory
// in TUM format.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/odometry"
	"go.viam.com/depthodom/posegraph"
	"go.viam.com/depthodom/rimage"
	"go.viam.com/depthodom/rimage/transform"
)

var logger = logging.NewLogger("depthodom")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	FramesDir  string `flag:"0,required,usage=directory of depth frames (png, dat or dat.gz), processed in name order"`
	Intrinsics string `flag:"intrinsics,usage=camera intrinsics JSON file"`
	Config     string `flag:"config,usage=odometry config JSON file"`
	Encoding   string `flag:"encoding,default=mono16,usage=depth encoding of PNG frames (mono16 mono8 32FC1)"`
	Rate       int    `flag:"rate,default=30,usage=frame rate used to stamp frames whose name is not a timestamp"`
	Output     string `flag:"output,usage=write the trajectory to this file instead of stdout"`
	Graph      string `flag:"graph,usage=write the keyframe graph to this g2o file"`
	Debug      bool   `flag:"debug,usage=enable debug logging"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	if argsParsed.Intrinsics == "" {
		return errors.New("--intrinsics is required")
	}
	if argsParsed.Rate <= 0 {
		return errors.Errorf("rate must be positive, got %d", argsParsed.Rate)
	}

	cfg := odometry.DefaultConfig()
	if argsParsed.Config != "" {
		loaded, err := odometry.LoadConfig(argsParsed.Config)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if argsParsed.Graph != "" {
		cfg.Keyframes.Enabled = true
	}
	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(argsParsed.Intrinsics)
	if err != nil {
		return err
	}
	enc, err := rimage.DepthEncodingFromString(argsParsed.Encoding)
	if err != nil {
		return err
	}
	frames, err := listFrames(argsParsed.FramesDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return errors.Errorf("no depth frames in %s", argsParsed.FramesDir)
	}

	var out io.Writer = os.Stdout
	if argsParsed.Output != "" {
		//nolint:gosec
		f, err := os.Create(argsParsed.Output)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		out = f
	}
	w := bufio.NewWriter(out)
	defer func() {
		err = multierr.Combine(err, w.Flush())
	}()

	pipeline := odometry.NewPipeline(cfg, logger.Sublogger("pipeline"))
	period := time.Second / time.Duration(argsParsed.Rate)
	skipped := 0
	for i, fn := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		dm, err := rimage.ReadDepthMapFile(fn, enc)
		if err != nil {
			logger.Warnw("cannot read frame", "file", fn, "error", err)
			skipped++
			continue
		}
		odom, err := pipeline.ProcessFrame(ctx, odometry.Frame{
			Stamp:      frameStamp(fn, i, period),
			FrameID:    cfg.FrameIDSensor,
			Depth:      dm,
			Intrinsics: intrinsics,
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			skipped++
			continue
		}
		if err := writeTUM(w, odom); err != nil {
			return err
		}
	}

	stats, err := pipeline.Stats()
	if err != nil {
		return err
	}
	logger.Infow("done",
		"frames", len(frames), "skipped", skipped, "registrations", stats.Registrations,
		"mean", stats.Mean, "p95", stats.P95)

	if argsParsed.Graph != "" {
		return writeGraph(argsParsed.Graph, pipeline)
	}
	return nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".png") || strings.HasSuffix(name, ".dat") || strings.HasSuffix(name, ".dat.gz") {
			frames = append(frames, filepath.Join(dir, name))
		}
	}
	slices.Sort(frames)
	return frames, nil
}

// frameStamp reads a stamp in seconds from names like 1305031102.160407.png and otherwise
// spaces frames evenly from the unix epoch.
func frameStamp(fn string, index int, period time.Duration) time.Time {
	base := filepath.Base(fn)
	for _, ext := range []string{".gz", ".dat", ".png"} {
		base = strings.TrimSuffix(base, ext)
	}
	if secs, err := strconv.ParseFloat(base, 64); err == nil && secs > 0 {
		return time.Unix(0, int64(secs*float64(time.Second)))
	}
	return time.Unix(0, 0).Add(time.Duration(index) * period)
}

func writeTUM(w io.Writer, odom *odometry.Odometry) error {
	pt := odom.Pose.Point()
	q := odom.Quaternion()
	_, err := fmt.Fprintf(w, "%.6f %.9f %.9f %.9f %.9f %.9f %.9f %.9f\n",
		float64(odom.Stamp.UnixNano())/float64(time.Second),
		pt.X, pt.Y, pt.Z, q.Imag, q.Jmag, q.Kmag, q.Real)
	return err
}

func writeGraph(fn string, pipeline *odometry.Pipeline) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return posegraph.WriteG2O(f, pipeline.KeyframeGraph(), pipeline.Estimate())
}
