package unit

import (
	"github.com/prevant-go/prevant/internal/hook"
	"github.com/prevant-go/prevant/internal/model"
)

// runHook implements step 6: evaluate the optional JavaScript deployment
// hook over the rendered service configs. The hook's output is matched
// back to the input by (name, container-type, image); an entry whose
// identity changed is dropped rather than resurrected under its new
// identity, per the hook's pure-function contract.
func (b *Builder) runHook(appName string, deployables []model.DeployableService) ([]model.DeployableService, error) {
	if b.Hook == nil {
		return deployables, nil
	}

	input := make([]model.ServiceConfig, len(deployables))
	byKey := make(map[hookKey]model.DeployableService, len(deployables))
	for i, d := range deployables {
		input[i] = d.ServiceConfig
		byKey[hookKeyOf(d.ServiceConfig)] = d
	}

	var output []model.ServiceConfig
	if err := hook.RunJSON(b.Hook, appName, input, &output); err != nil {
		return nil, err
	}

	result := make([]model.DeployableService, 0, len(output))
	for _, cfg := range output {
		original, ok := byKey[hookKeyOf(cfg)]
		if !ok {
			continue
		}
		updated := original
		updated.ServiceConfig = cfg
		if cfg.Router != nil {
			updated.Route = *cfg.Router
		}
		result = append(result, updated)
	}
	return result, nil
}

type hookKey struct {
	name  string
	ctype model.ContainerType
	image string
}

func hookKeyOf(cfg model.ServiceConfig) hookKey {
	return hookKey{name: cfg.ServiceName, ctype: cfg.ContainerType, image: cfg.Image.Name()}
}
