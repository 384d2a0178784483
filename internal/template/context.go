package template

// ServiceView is the {name, port, type} shape spec.md's templating contexts
// expose for a single service.
type ServiceView struct {
	Name string
	Port uint16
	Type string
}

// ApplicationView is the {name} shape exposed as `application.*`.
type ApplicationView struct {
	Name string
}

// Context is the full set of variables available while rendering a
// deployment-unit entry's templated fields. Service is set only while
// rendering a service-companion entry (it sees the single service it was
// generated from); Services is set only while rendering an
// application-companion entry (it sees every service materialized so far).
// A request-set entry being templated against `application` leaves both
// nil.
type Context struct {
	Application ApplicationView
	Service     *ServiceView
	Services    []ServiceView
}

// toMap flattens a Context into the map[string]interface{} shape Engine
// operates on, matching the teacher's MergeContexts idiom of composing flat
// maps rather than threading structs through the renderer.
func (c Context) toMap() map[string]interface{} {
	m := map[string]interface{}{
		"application": map[string]interface{}{
			"name": c.Application.Name,
		},
	}
	if c.Service != nil {
		m["service"] = map[string]interface{}{
			"name": c.Service.Name,
			"port": c.Service.Port,
			"type": c.Service.Type,
		}
	}
	if c.Services != nil {
		services := make([]interface{}, len(c.Services))
		for i, s := range c.Services {
			services[i] = map[string]interface{}{
				"name": s.Name,
				"port": s.Port,
				"type": s.Type,
			}
		}
		m["services"] = services
	}
	return m
}

// MergeContexts merges multiple flat variable maps into one. Later maps
// override values from earlier ones; used when composing a Context's
// flattened form with any extra ad hoc variables a caller supplies.
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}
	return result
}
