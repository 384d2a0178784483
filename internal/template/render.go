package template

import (
	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/model"
)

// RenderServiceConfig renders every templated field of cfg against ctx: all
// environment values marked Templated, every file's content, and the
// router path prefix, converting the engine's generic "missing template
// variable"/parse errors into apperr.InvalidTemplateFormat per spec.md §4.2.
func RenderServiceConfig(engine *Engine, cfg model.ServiceConfig, ctx Context) (model.ServiceConfig, error) {
	vars := ctx.toMap()
	out := cfg.Clone()

	for i, env := range out.Environment {
		if !env.Templated {
			continue
		}
		rendered, err := engine.Replace(env.Value, vars)
		if err != nil {
			return model.ServiceConfig{}, apperr.InvalidTemplateFormat(templateErrorDetail(cfg.ServiceName, "environment."+env.Key, err))
		}
		str, ok := rendered.(string)
		if !ok {
			return model.ServiceConfig{}, apperr.InvalidTemplateFormat(templateErrorDetail(cfg.ServiceName, "environment."+env.Key, nil))
		}
		out.Environment[i].Value = str
	}

	for path, content := range out.Files {
		rendered, err := engine.Replace(content, vars)
		if err != nil {
			return model.ServiceConfig{}, apperr.InvalidTemplateFormat(templateErrorDetail(cfg.ServiceName, "files."+path, err))
		}
		out.Files[path] = rendered.(string)
	}

	if out.Router != nil {
		rendered, err := engine.Replace(out.Router.PathPrefix, vars)
		if err != nil {
			return model.ServiceConfig{}, apperr.InvalidTemplateFormat(templateErrorDetail(cfg.ServiceName, "router.pathPrefix", err))
		}
		out.Router.PathPrefix = rendered.(string)
	}

	return out, nil
}

func templateErrorDetail(serviceName, field string, cause error) string {
	if cause == nil {
		return "service " + serviceName + ": field " + field + " did not render to a string"
	}
	return "service " + serviceName + ": field " + field + ": " + cause.Error()
}
