// Package main is a command line tool that solves and inspects g2o pose graphs.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/posegraph"
)

const (
	flagDebug         = "debug"
	flagOutput        = "output"
	flagRobust        = "robust"
	flagKernel        = "kernel"
	flagMaxIterations = "max-iterations"
	flagNoAnchor      = "no-anchor"
)

// anchorSigma is the sigma of the priors added to components that have none.
const anchorSigma = 1e-6

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	logger := logging.NewBlankLogger("posegraph")
	return &cli.App{
		Name:            "posegraph",
		Usage:           "solve and inspect g2o pose graphs",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("posegraph")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "solve",
				Usage:     "optimize a g2o graph with Levenberg-Marquardt",
				ArgsUsage: "<graph.g2o>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Usage:   "write the solved graph to `FILE` instead of stdout",
					},
					&cli.BoolFlag{
						Name:  flagRobust,
						Usage: "wrap every between factor in a robust kernel",
					},
					&cli.StringFlag{
						Name:  flagKernel,
						Value: "cauchy",
						Usage: "robust kernel used with --robust (cauchy or huber)",
					},
					&cli.IntFlag{
						Name:  flagMaxIterations,
						Value: posegraph.DefaultLMParams().MaxIterations,
						Usage: "iteration cap",
					},
					&cli.BoolFlag{
						Name:  flagNoAnchor,
						Usage: "do not add priors to components that have none",
					},
				},
				Action: func(c *cli.Context) error {
					return solveAction(c, logger)
				},
			},
			{
				Name:      "components",
				Usage:     "print the keys of each connected component, one component per line",
				ArgsUsage: "<graph.g2o>",
				Action:    componentsAction,
			},
		},
	}
}

func readGraphArg(c *cli.Context) (posegraph.FactorGraph, posegraph.Values, error) {
	if c.Args().Len() != 1 {
		return nil, nil, errors.Errorf("expected one graph file, got %d arguments", c.Args().Len())
	}
	fn := c.Args().First()
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	graph, values, err := posegraph.ReadG2O(f)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", fn)
	}
	return graph, values, nil
}

func solveAction(c *cli.Context, logger logging.Logger) (err error) {
	graph, initial, err := readGraphArg(c)
	if err != nil {
		return err
	}
	if !c.Bool(flagNoAnchor) {
		graph, err = anchorComponents(graph, initial)
		if err != nil {
			return err
		}
	}
	if c.Bool(flagRobust) {
		kernel, err := posegraph.KernelFromName(c.String(flagKernel))
		if err != nil {
			return err
		}
		if kernel != nil {
			graph = posegraph.AddRobustKernel(graph, kernel)
		}
	}

	params := posegraph.DefaultLMParams()
	params.MaxIterations = c.Int(flagMaxIterations)
	params.Verbose = c.Bool(flagDebug)
	params.Logger = logger
	solved, result, err := posegraph.LevenbergMarquardt(graph, initial, params)
	if err != nil {
		return err
	}
	logger.Infow("solved",
		"iterations", result.Iterations, "initial_error", result.InitialError,
		"final_error", result.FinalError, "converged", result.Converged)

	out := c.App.Writer
	if fn := c.String(flagOutput); fn != "" {
		//nolint:gosec
		f, err := os.Create(fn)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		out = f
	}
	return posegraph.WriteG2O(out, graph, solved)
}

// anchorComponents adds a tight prior at the initial pose of the smallest key of every
// connected component that has no prior yet. Keys without any between factor count as their own
// component.
func anchorComponents(graph posegraph.FactorGraph, initial posegraph.Values) (posegraph.FactorGraph, error) {
	priors := graph.Priors()
	components := posegraph.ConnectedComponents(graph)
	covered := map[int]bool{}
	for _, component := range components {
		for _, key := range component {
			covered[key] = true
		}
	}
	for _, key := range initial.Keys() {
		if !covered[key] {
			components = append(components, []int{key})
		}
	}

	noise, err := posegraph.NewDiagonalNoiseModel(posegraph.Sigmas{
		anchorSigma, anchorSigma, anchorSigma, anchorSigma, anchorSigma, anchorSigma,
	})
	if err != nil {
		return nil, err
	}
	out := graph.Clone()
	for _, component := range components {
		anchored := false
		for _, key := range component {
			if _, ok := priors[key]; ok {
				anchored = true
				break
			}
		}
		if anchored {
			continue
		}
		key := component[0]
		pose, ok := initial[key]
		if !ok {
			return nil, errors.Wrapf(posegraph.ErrKeyMissing, "key %d", key)
		}
		out = append(out, posegraph.NewPriorFactor(key, pose, noise))
	}
	return out, nil
}

func componentsAction(c *cli.Context) error {
	graph, _, err := readGraphArg(c)
	if err != nil {
		return err
	}
	for _, component := range posegraph.ConnectedComponents(graph) {
		keys := make([]string, len(component))
		for i, key := range component {
			keys[i] = fmt.Sprint(key)
		}
		if _, err := fmt.Fprintln(c.App.Writer, strings.Join(keys, " ")); err != nil {
			return err
		}
	}
	return nil
}
