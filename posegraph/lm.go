package posegraph

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthodom/logging"
)

// LMParams configures LevenbergMarquardt.
type LMParams struct {
	InitialLambda    float64 `json:"initial_lambda"`
	LambdaFactor     float64 `json:"lambda_factor"`
	MaxLambda        float64 `json:"max_lambda"`
	RelativeErrorTol float64 `json:"relative_error_tol"`
	AbsoluteErrorTol float64 `json:"absolute_error_tol"`
	MaxIterations    int     `json:"max_iterations"`
	// Verbose logs the error at every iteration and the termination reason.
	Verbose bool           `json:"verbose"`
	Logger  logging.Logger `json:"-"`
}

// DefaultLMParams returns the usual Levenberg-Marquardt settings.
func DefaultLMParams() LMParams {
	return LMParams{
		InitialLambda:    1e-5,
		LambdaFactor:     10,
		MaxLambda:        1e5,
		RelativeErrorTol: 1e-5,
		AbsoluteErrorTol: 1e-5,
		MaxIterations:    100,
	}
}

// LMResult summarizes a LevenbergMarquardt run.
type LMResult struct {
	Iterations   int
	InitialError float64
	FinalError   float64
	Lambda       float64
	Converged    bool
}

// LevenbergMarquardt solves the whole graph from initial. Every key of initial must be tied to
// a prior through between factors, otherwise ErrUnanchored is returned before any work is done.
// initial is not modified.
func LevenbergMarquardt(graph FactorGraph, initial Values, params LMParams) (Values, LMResult, error) {
	if err := checkAnchored(graph, initial); err != nil {
		return nil, LMResult{}, err
	}
	if params.LambdaFactor <= 1 {
		params.LambdaFactor = DefaultLMParams().LambdaFactor
	}
	if params.MaxLambda <= 0 {
		params.MaxLambda = DefaultLMParams().MaxLambda
	}
	logf := func(msg string, keysAndValues ...interface{}) {
		if params.Logger == nil {
			return
		}
		if params.Verbose {
			params.Logger.Infow(msg, keysAndValues...)
		} else {
			params.Logger.Debugw(msg, keysAndValues...)
		}
	}

	current := initial.Clone()
	keys := current.Keys()
	currentError, err := graph.Error(current)
	if err != nil {
		return nil, LMResult{}, err
	}
	result := LMResult{InitialError: currentError, FinalError: currentError, Lambda: params.InitialLambda}
	if len(keys) == 0 || currentError == 0 {
		result.Converged = true
		return current, result, nil
	}

	lambda := params.InitialLambda
	for result.Iterations < params.MaxIterations {
		result.Iterations++
		sys, err := buildLinearSystem(graph, current.lookup, keys)
		if err != nil {
			return nil, result, err
		}

		improved := false
		var nextError float64
		for lambda <= params.MaxLambda {
			delta, err := sys.solve(lambda)
			if err != nil {
				if !errors.Is(err, ErrIndefinite) {
					return nil, result, err
				}
				lambda *= params.LambdaFactor
				continue
			}
			candidate := current.Clone()
			for k, p := range sys.retract(current.lookup, delta) {
				candidate[k] = p
			}
			candidateError, err := graph.Error(candidate)
			if err != nil {
				return nil, result, err
			}
			if candidateError < currentError {
				current = candidate
				nextError = candidateError
				lambda = math.Max(lambda/params.LambdaFactor, 1e-20)
				improved = true
				break
			}
			lambda *= params.LambdaFactor
		}
		result.Lambda = lambda
		if !improved {
			// no damping level reduces the error any further.
			result.Converged = true
			logf("levenberg-marquardt stopped: cannot decrease error", "iterations", result.Iterations, "error", currentError)
			break
		}

		decrease := currentError - nextError
		logf("levenberg-marquardt iteration", "iteration", result.Iterations, "error", nextError, "lambda", lambda)
		relative := decrease / currentError
		currentError = nextError
		result.FinalError = currentError
		if decrease <= params.AbsoluteErrorTol || relative <= params.RelativeErrorTol || currentError <= 0 {
			result.Converged = true
			logf("levenberg-marquardt converged", "iterations", result.Iterations, "error", currentError)
			break
		}
	}
	if !result.Converged {
		logf("levenberg-marquardt reached the iteration limit", "iterations", result.Iterations, "error", currentError)
	}
	return current, result, nil
}

// OptimizePoseGraphLM runs LevenbergMarquardt with default parameters, first wrapping every
// between factor in the default Cauchy kernel when robust is set.
func OptimizePoseGraphLM(graph FactorGraph, initial Values, verbose, robust bool, logger logging.Logger) (Values, error) {
	if robust {
		graph = AddRobustKernel(graph, DefaultCauchy)
	}
	params := DefaultLMParams()
	params.Verbose = verbose
	params.Logger = logger
	solved, _, err := LevenbergMarquardt(graph, initial, params)
	return solved, err
}

// AddRobustKernel returns a copy of graph in which every between factor's noise model is
// wrapped by kernel. Priors are copied unchanged and graph itself is not modified.
func AddRobustKernel(graph FactorGraph, kernel RobustKernel) FactorGraph {
	if kernel == nil {
		kernel = DefaultCauchy
	}
	out := make(FactorGraph, 0, len(graph))
	for _, f := range graph {
		if f.Kind == FactorBetween {
			f.Noise = f.Noise.Robust(kernel)
		}
		out = append(out, f)
	}
	return out
}
