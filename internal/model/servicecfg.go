package model

// ServiceConfig is the unit of user intent: a single service's desired
// state before it is expanded into a DeployableService by the deployment
// unit builder.
type ServiceConfig struct {
	ServiceName string `json:"serviceName"`
	Image       Image  `json:"image"`

	Environment EnvironmentSet `json:"environment,omitempty"`
	// Files maps a mount path to secret file content.
	Files  map[string]string `json:"files,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`

	Router      *RouterConfig `json:"router,omitempty"`
	Middlewares []string      `json:"middlewares,omitempty"`

	ContainerType ContainerType `json:"containerType"`

	// Port is the container port the service listens on. Zero means
	// "unresolved" until the image registry resolver assigns one.
	Port uint16 `json:"port,omitempty"`
}

// RouterConfig describes the ingress route a service should receive.
type RouterConfig struct {
	// PathPrefix is matched and stripped before forwarding, normally
	// "/{AppName}/{ServiceName}/".
	PathPrefix string `json:"pathPrefix"`
}

// Clone returns a deep copy so callers can mutate the result (e.g. replica
// synthesis, companion materialization) without aliasing the original.
func (c ServiceConfig) Clone() ServiceConfig {
	clone := c
	clone.Environment = append(EnvironmentSet(nil), c.Environment...)
	clone.Files = cloneStringMap(c.Files)
	clone.Labels = cloneStringMap(c.Labels)
	clone.Middlewares = append([]string(nil), c.Middlewares...)
	if c.Router != nil {
		r := *c.Router
		clone.Router = &r
	}
	return clone
}

// MergeWith combines c (left, wins on collision) with other (right),
// following the rule shared by companion-merge and CreateOrUpdate-merge:
// environments union with left winning; files and labels union the same
// way. ServiceName, Image, ContainerType, and Router are taken from the
// receiver since merges only ever happen between configs that already
// share identity (same service name).
func (c ServiceConfig) MergeWith(other ServiceConfig) ServiceConfig {
	result := c.Clone()
	result.Environment = c.Environment.MergeWith(other.Environment)
	result.Files = mergeStringMapLeftWins(c.Files, other.Files)
	result.Labels = mergeStringMapLeftWins(c.Labels, other.Labels)
	if result.Port == 0 {
		result.Port = other.Port
	}
	return result
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeStringMapLeftWins(left, right map[string]string) map[string]string {
	if left == nil && right == nil {
		return nil
	}
	out := make(map[string]string, len(left)+len(right))
	for k, v := range right {
		out[k] = v
	}
	for k, v := range left {
		out[k] = v
	}
	return out
}
