package predictor

import "errors"

var (
	// ErrValidation marks a request rejected before binding
	ErrValidation = errors.New("invalid request")
	// ErrConfiguration marks a broken deployment: a template missing a role node,
	// an unavailable asset or an unreachable engine at setup
	ErrConfiguration = errors.New("configuration error")
	// ErrExecution marks a failure reported by, or talking to, the rendering engine
	ErrExecution = errors.New("execution failed")
	// ErrPostProcess marks a failure converting output files
	ErrPostProcess = errors.New("post-processing failed")

	ErrUnknownAspectRatio = errors.New("unknown aspect ratio")
	ErrSeedUnresolved     = errors.New("seed must be resolved before binding")
	ErrMissingNode        = errors.New("workflow is missing a node for role")
	ErrNotSetup           = errors.New("predictor has not been set up")
)
