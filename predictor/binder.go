package predictor

import (
	"fmt"

	"github.com/richinsley/comfypredict/graphapi"
)

type fieldWrite struct {
	role  Role
	input string
	value interface{}
}

// Bind returns a copy of template with the request parameters written into the
// nodes named by roles. The template itself is never modified. On failure no
// workflow is returned.
//
// Both sampler stages receive the same seed and guidance scale.
func Bind(template graphapi.Workflow, roles Roles, params Params) (graphapi.Workflow, error) {
	if params.Seed == nil {
		return nil, ErrSeedUnresolved
	}
	dims, err := LookupAspectRatio(params.AspectRatio)
	if err != nil {
		return nil, err
	}
	if err := roles.Resolve(template); err != nil {
		return nil, err
	}

	seed := *params.Seed
	writes := []fieldWrite{
		{RoleDimensions, "width", dims.Width},
		{RoleDimensions, "height", dims.Height},

		{RolePositivePrompt, "text", params.Prompt},
		{RoleNegativePrompt, "text", params.NegativePrompt},

		{RoleBaseSampler, "seed", seed},
		{RoleBaseSampler, "steps", int(params.NumInferenceSteps)},
		{RoleBaseSampler, "cfg", params.GuidanceScale},
		{RoleBaseSampler, "denoise", params.Denoise},

		{RoleRefinerSampler, "seed", seed},
		{RoleRefinerSampler, "steps", int(params.HighNumInferenceSteps)},
		{RoleRefinerSampler, "cfg", params.GuidanceScale},
		{RoleRefinerSampler, "denoise", params.HighDenoise},
	}

	wf := template.Clone()
	for _, w := range writes {
		id := roles.NodeID(w.role)
		if _, err := wf.GetInput(id, w.input); err != nil {
			return nil, fmt.Errorf("%w: binding %s: %w", ErrConfiguration, w.role, err)
		}
		if err := wf.SetInput(id, w.input, w.value); err != nil {
			return nil, fmt.Errorf("%w: binding %s: %w", ErrConfiguration, w.role, err)
		}
	}
	return wf, nil
}
