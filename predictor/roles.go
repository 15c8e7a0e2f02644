package predictor

import (
	"fmt"
	"strings"

	"github.com/richinsley/comfypredict/graphapi"
)

// Role names a node the binder writes to. The node ID behind each role comes from
// configuration so the binder never refers to a template's node IDs directly.
type Role string

const (
	RoleDimensions     Role = "dimensions"
	RolePositivePrompt Role = "positive_prompt"
	RoleNegativePrompt Role = "negative_prompt"
	RoleBaseSampler    Role = "base_sampler"
	RoleRefinerSampler Role = "refiner_sampler"
)

// RequiredRoles lists every role the binder writes to
var RequiredRoles = []Role{
	RoleDimensions,
	RolePositivePrompt,
	RoleNegativePrompt,
	RoleBaseSampler,
	RoleRefinerSampler,
}

// Roles maps each role to a node ID of the template
type Roles map[Role]string

// DefaultRoles returns the node IDs of the stock SDXL base + refiner template
func DefaultRoles() Roles {
	return Roles{
		RoleDimensions:     "68",
		RolePositivePrompt: "6",
		RoleNegativePrompt: "7",
		RoleBaseSampler:    "3",
		RoleRefinerSampler: "50",
	}
}

// RolesFromMap converts a configuration map, rejecting role names the binder does not know
func RolesFromMap(m map[string]string) (Roles, error) {
	retv := make(Roles, len(m))
	for k, v := range m {
		role := Role(k)
		if !isRequiredRole(role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrConfiguration, k)
		}
		retv[role] = v
	}
	return retv, nil
}

func isRequiredRole(r Role) bool {
	for _, req := range RequiredRoles {
		if req == r {
			return true
		}
	}
	return false
}

// Resolve checks that every required role is mapped and that its node exists in the
// workflow. All problems are reported in one error.
func (r Roles) Resolve(wf graphapi.Workflow) error {
	var missing []string
	for _, role := range RequiredRoles {
		id, ok := r[role]
		if !ok || id == "" {
			missing = append(missing, fmt.Sprintf("%s (unmapped)", role))
			continue
		}
		if _, err := wf.GetNode(id); err != nil {
			missing = append(missing, fmt.Sprintf("%s (node %s)", role, id))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %w: %s", ErrConfiguration, ErrMissingNode, strings.Join(missing, ", "))
	}
	return nil
}

// NodeID returns the node ID for a role
func (r Roles) NodeID(role Role) string {
	return r[role]
}
